package model

// TargetTypeSlot はスロット自身を描画対象とする際のタグ。
const TargetTypeSlot = "swim.slot"

// Target はスロットの添付先、またはrenderの描画対象となるエンティティ。
// (TargetType, TargetID)の組がエンティティを一意に識別する。
type Target interface {
	TargetType() string
	TargetID() string
}

// Slot はエンティティにコンテンツを添付するレコード。
// (OwnerType, OwnerID, Atom, Key, Order)で同一キー内のスロットを区別する。
type Slot struct {
	ID        string
	OwnerType string // 添付先のtarget type
	OwnerID   string
	Atom      string // 登録済みアトムの属性名（例: "copy"）
	Key       string
	Order     int

	// ContentType はアトムのswim content type。ローダーが埋める。
	ContentType string

	// Body はコピー系スロットのインライン本文。
	Body string

	// Reference は参照系スロットが指す強エンティティ。
	Reference *Reference
}

// TargetType はrender対象としてのタグを返す。
func (s *Slot) TargetType() string { return TargetTypeSlot }

// TargetID はスロットのIDを返す。
func (s *Slot) TargetID() string { return s.ID }

// SwimContentType はスロットを描画するテンプレートの種別を返す。
func (s *Slot) SwimContentType() string { return s.ContentType }

// String はテンプレートに直接埋め込まれた場合の表示値を返す。
func (s *Slot) String() string {
	if s == nil {
		return ""
	}
	if s.Reference != nil {
		if t, ok := s.Reference.Fields["title"].(string); ok {
			return t
		}
		return s.Reference.ID
	}
	return s.Body
}

// Reference は参照スロットが指すエンティティ。
// Fieldsにはレジストリの結合ヒントで指定したカラムが入る。
type Reference struct {
	Kind   string // 参照先のtarget type
	ID     string
	Fields map[string]any
}

// TargetType は参照先のtarget typeを返す。
func (r *Reference) TargetType() string { return r.Kind }

// TargetID は参照先のIDを返す。
func (r *Reference) TargetID() string { return r.ID }

// Field は参照先のフィールド値を返す。存在しない場合はnilを返す。
func (r *Reference) Field(name string) any {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}
