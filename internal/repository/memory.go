package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/registry"
)

// MemoryStore はメモリ上で全リポジトリを実装するストア。
// テストと、データベースを持たない組み込み用途で使う。
type MemoryStore struct {
	mu sync.RWMutex

	resources     map[string]*model.Resource // id → resource
	resourceTypes map[string]*model.ResourceType
	schemas       map[string]*model.ContentSchema
	templates     map[string]*model.Template
	mappings      map[string][]string // resource_type_id → template_id
	slots         map[registry.StorageKind][]*model.Slot
	referents     map[string]map[string]map[string]any // kind → id → fields
	chains        map[model.ChainKind][]*model.ChainMapping
	handlers      []*model.HandlerMapping
	redirects     map[string]*model.PathRedirect
	restrictions  map[string]*model.AccessRestriction
	siteContent   map[string]string

	slotReads map[registry.StorageKind]int
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources:     make(map[string]*model.Resource),
		resourceTypes: make(map[string]*model.ResourceType),
		schemas:       make(map[string]*model.ContentSchema),
		templates:     make(map[string]*model.Template),
		mappings:      make(map[string][]string),
		slots:         make(map[registry.StorageKind][]*model.Slot),
		referents:     make(map[string]map[string]map[string]any),
		chains:        make(map[model.ChainKind][]*model.ChainMapping),
		redirects:     make(map[string]*model.PathRedirect),
		restrictions:  make(map[string]*model.AccessRestriction),
		siteContent:   make(map[string]string),
		slotReads:     make(map[registry.StorageKind]int),
	}
}

// Store はMemoryStoreを全フィールドに割り当てたStoreを返す。
func (m *MemoryStore) Store() Store {
	return Store{
		Resources:     memResources{m},
		ResourceTypes: memResourceTypes{m},
		Schemas:       memSchemas{m},
		Templates:     memTemplates{m},
		Slots:         memSlots{m},
		Chains:        memChains{m},
		Handlers:      memHandlers{m},
		Redirects:     memRedirects{m},
		Restrictions:  memRestrictions{m},
		SiteContent:   memSiteContent{m},
	}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// AddResourceType はリソースタイプを追加する。親が未登録の場合や循環する場合はエラーを返す。
func (m *MemoryStore) AddResourceType(rt *model.ResourceType) error {
	if err := model.ValidateKey("resource_type.key", rt.Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rt.ID = newID(rt.ID)
	for _, existing := range m.resourceTypes {
		if existing.Key == rt.Key && existing.ID != rt.ID {
			return model.NewValidationError("resource_type.key", "duplicate key "+rt.Key)
		}
	}
	if rt.ParentID != "" {
		seen := map[string]bool{rt.ID: true}
		for id := rt.ParentID; id != ""; {
			if seen[id] {
				return model.NewValidationError("resource_type.parent_id", "parent chain is cyclic")
			}
			seen[id] = true
			parent, ok := m.resourceTypes[id]
			if !ok {
				return model.NewValidationError("resource_type.parent_id", "unknown parent "+id)
			}
			id = parent.ParentID
		}
	}
	m.resourceTypes[rt.ID] = rt
	return nil
}

// AddResource はリソースを追加する。パスは正規化済みで一意でなければならない。
func (m *MemoryStore) AddResource(res *model.Resource) error {
	if err := model.ValidatePath(res.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.resourceTypes[res.ResourceTypeID]; !ok {
		return model.NewValidationError("resource.resource_type_id", "unknown resource type "+res.ResourceTypeID)
	}
	res.ID = newID(res.ID)
	for _, existing := range m.resources {
		if existing.Path == res.Path && existing.ID != res.ID {
			return model.NewValidationError("resource.path", "duplicate path "+res.Path)
		}
	}
	now := time.Now()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now
	m.resources[res.ID] = res
	return nil
}

// DeleteResource はリソースを削除する。添付されたスロットは残る。
func (m *MemoryStore) DeleteResource(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, id)
}

// AddSchema はコンテンツスキーマを追加する。
func (m *MemoryStore) AddSchema(s *model.ContentSchema) error {
	if err := model.ValidateSchema(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = newID(s.ID)
	sort.SliceStable(s.Members, func(i, j int) bool { return s.Members[i].Order < s.Members[j].Order })
	m.schemas[s.ID] = s
	return nil
}

// AddTemplate はテンプレートを追加し、指定リソースタイプに対応付ける。
func (m *MemoryStore) AddTemplate(t *model.Template, resourceTypeIDs ...string) error {
	if err := model.ValidateMediaType(t.HTTPContentType); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t.ID = newID(t.ID)
	for _, existing := range m.templates {
		if existing.Path == t.Path && existing.ID != t.ID {
			return model.NewValidationError("template.path", "duplicate path "+t.Path)
		}
	}
	m.templates[t.ID] = t
	for _, rtID := range resourceTypeIDs {
		if _, ok := m.resourceTypes[rtID]; !ok {
			return model.NewValidationError("resource_type_template_mapping.resource_type_id", "unknown resource type "+rtID)
		}
		m.mappings[rtID] = append(m.mappings[rtID], t.ID)
	}
	return nil
}

// AddSlot はスロットを追加する。(owner, atom, key, order)が重複する場合はエラーを返す。
func (m *MemoryStore) AddSlot(kind registry.StorageKind, s *model.Slot) error {
	if err := model.ValidateKey("slot.key", s.Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.slots[kind] {
		if existing.OwnerType == s.OwnerType && existing.OwnerID == s.OwnerID &&
			existing.Atom == s.Atom && existing.Key == s.Key && existing.Order == s.Order {
			return model.NewValidationError("slot.order", fmt.Sprintf("duplicate order %d for key %s", s.Order, s.Key))
		}
	}
	s.ID = newID(s.ID)
	m.slots[kind] = append(m.slots[kind], s)
	return nil
}

// AddReferent は参照スロットの参照先となるエンティティのフィールドを登録する。
// リソースは登録済みのリソースから自動的に解決される。
func (m *MemoryStore) AddReferent(kind, id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.referents[kind] == nil {
		m.referents[kind] = make(map[string]map[string]any)
	}
	m.referents[kind][id] = fields
}

// AddChain はミドルウェアまたはレスポンスプロセッサのマッピングを追加する。
func (m *MemoryStore) AddChain(kind model.ChainKind, cm *model.ChainMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[kind] = append(m.chains[kind], cm)
}

// AddHandler はリクエストハンドラのマッピングを追加する。
func (m *MemoryStore) AddHandler(h *model.HandlerMapping) error {
	if err := model.ValidatePath(h.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h.Method = strings.ToUpper(h.Method)
	for _, existing := range m.handlers {
		if existing.Path == h.Path && existing.Method == h.Method {
			return model.NewValidationError("request_handler_mapping.method", "duplicate method "+h.Method)
		}
	}
	m.handlers = append(m.handlers, h)
	return nil
}

// AddRedirect はパスリダイレクトを追加する。
func (m *MemoryStore) AddRedirect(pr *model.PathRedirect) error {
	if err := model.ValidatePath(pr.Path); err != nil {
		return err
	}
	if !model.ValidRedirectType(pr.RedirectType) {
		return model.NewValidationError("path_redirect.redirect_type", fmt.Sprintf("unsupported status %d", pr.RedirectType))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects[pr.Path] = pr
	return nil
}

// AddRestriction はアクセス制限を追加する。
func (m *MemoryStore) AddRestriction(ar *model.AccessRestriction) error {
	if err := model.ValidatePath(ar.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restrictions[ar.Path] = ar
	return nil
}

// SetSiteContent はサイトコンテンツのレコードを設定する。
func (m *MemoryStore) SetSiteContent(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.siteContent[key] = value
}

// SlotReads は格納種別ごとのスロット読み込み回数を返す。
func (m *MemoryStore) SlotReads(kind registry.StorageKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slotReads[kind]
}

type memResources struct{ m *MemoryStore }

func (r memResources) FindByID(_ context.Context, id string) (*model.Resource, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.resources[id], nil
}

func (r memResources) FindByPath(_ context.Context, path string) (*model.Resource, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, res := range r.m.resources {
		if res.Path == path {
			return res, nil
		}
	}
	return nil, nil
}

func (r memResources) FindByPaths(_ context.Context, paths []string) ([]*model.Resource, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	want := toSet(paths)
	var out []*model.Resource
	for _, res := range r.m.resources {
		if want[res.Path] {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i].Path) > len(out[j].Path) })
	return out, nil
}

type memResourceTypes struct{ m *MemoryStore }

func (r memResourceTypes) FindByID(_ context.Context, id string) (*model.ResourceType, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.resourceTypes[id], nil
}

func (r memResourceTypes) FindByKey(_ context.Context, key string) (*model.ResourceType, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, rt := range r.m.resourceTypes {
		if rt.Key == key {
			return rt, nil
		}
	}
	return nil, nil
}

func (r memResourceTypes) Ancestors(_ context.Context, id string) ([]*model.ResourceType, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var chain []*model.ResourceType
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if seen[cur] {
			return nil, checkChain(chain)
		}
		seen[cur] = true
		rt, ok := r.m.resourceTypes[cur]
		if !ok {
			break
		}
		chain = append(chain, rt)
		cur = rt.ParentID
	}
	return chain, nil
}

type memSchemas struct{ m *MemoryStore }

func (r memSchemas) FindByID(_ context.Context, id string) (*model.ContentSchema, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.schemas[id], nil
}

type memTemplates struct{ m *MemoryStore }

func (r memTemplates) FindByPath(_ context.Context, path string) (*model.Template, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, t := range r.m.templates {
		if t.Path == path {
			return t, nil
		}
	}
	return nil, nil
}

func (r memTemplates) ListMappings(_ context.Context, resourceTypeIDs []string, swimContentType string) ([]*model.TemplateMapping, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*model.TemplateMapping
	for _, rtID := range resourceTypeIDs {
		for _, tID := range r.m.mappings[rtID] {
			t := r.m.templates[tID]
			if t != nil && t.SwimContentType == swimContentType {
				out = append(out, &model.TemplateMapping{ResourceTypeID: rtID, Template: t})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Template.Path < out[j].Template.Path })
	return out, nil
}

type memSlots struct{ m *MemoryStore }

func (r memSlots) ListByTarget(_ context.Context, kind registry.StorageKind, atoms []registry.AtomType, targetType, targetID string) ([]*model.Slot, error) {
	r.m.mu.Lock()
	r.m.slotReads[kind]++
	r.m.mu.Unlock()

	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	byAtom := make(map[string]registry.AtomType, len(atoms))
	for _, a := range atoms {
		byAtom[a.AttributeName] = a
	}

	var out []*model.Slot
	for _, s := range r.m.slots[kind] {
		atom, ok := byAtom[s.Atom]
		if !ok || s.OwnerType != targetType || s.OwnerID != targetID {
			continue
		}
		cp := *s
		if s.Reference != nil {
			ref := *s.Reference
			ref.Fields = r.referentFields(atom, ref.Kind, ref.ID)
			cp.Reference = &ref
		}
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

// referentFields は結合ヒントのカラムだけを取り出す。呼び出し側でロックを保持すること。
func (r memSlots) referentFields(atom registry.AtomType, kind, id string) map[string]any {
	if atom.Join == nil {
		return nil
	}
	var src map[string]any
	if kind == model.TargetTypeResource {
		if res, ok := r.m.resources[id]; ok {
			src = map[string]any{"path": res.Path, "title": res.Title, "resource_type_id": res.ResourceTypeID}
		}
	} else {
		src = r.m.referents[kind][id]
	}
	if src == nil {
		return nil
	}
	fields := make(map[string]any, len(atom.Join.Columns))
	for _, c := range atom.Join.Columns {
		if v, ok := src[c]; ok {
			fields[c] = v
		}
	}
	return fields
}

func (r memSlots) DeleteDangling(_ context.Context, kind registry.StorageKind, registeredTargetTypes []string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	registered := toSet(registeredTargetTypes)
	var kept []*model.Slot
	var n int64
	for _, s := range r.m.slots[kind] {
		_, resourceExists := r.m.resources[s.OwnerID]
		if !registered[s.OwnerType] || (s.OwnerType == model.TargetTypeResource && !resourceExists) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	r.m.slots[kind] = kept
	return n, nil
}

type memChains struct{ m *MemoryStore }

func (r memChains) ListMappings(_ context.Context, kind model.ChainKind, resourceTypeIDs []string) ([]*model.ChainMapping, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	want := toSet(resourceTypeIDs)
	var out []*model.ChainMapping
	for _, cm := range r.m.chains[kind] {
		if want[cm.ResourceTypeID] {
			cp := *cm
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

type memHandlers struct{ m *MemoryStore }

func (r memHandlers) ListByPath(_ context.Context, path string) ([]*model.HandlerMapping, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*model.HandlerMapping
	for _, h := range r.m.handlers {
		if h.Path == path {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

type memRedirects struct{ m *MemoryStore }

func (r memRedirects) FindByPath(_ context.Context, path string) (*model.PathRedirect, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.redirects[path], nil
}

type memRestrictions struct{ m *MemoryStore }

func (r memRestrictions) FindByPaths(_ context.Context, paths []string) ([]*model.AccessRestriction, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*model.AccessRestriction
	for _, p := range paths {
		if ar, ok := r.m.restrictions[p]; ok {
			out = append(out, ar)
		}
	}
	return out, nil
}

type memSiteContent struct{ m *MemoryStore }

func (r memSiteContent) List(_ context.Context) ([]*model.SiteContent, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]*model.SiteContent, 0, len(r.m.siteContent))
	for k, v := range r.m.siteContent {
		out = append(out, &model.SiteContent{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
