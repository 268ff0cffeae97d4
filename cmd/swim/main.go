package main

import "github.com/hitoshi/swim/internal/app"

func main() {
	app.Execute()
}
