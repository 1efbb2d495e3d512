package main

import (
	"github.com/acteon/acteon/internal/action"
	"github.com/acteon/acteon/internal/bridge"
	"github.com/acteon/acteon/internal/schema"
)

// bridgeActions exposes the collaborator's side-effect primitives as plain
// actions, so YAML packs can offer them to the model.
func bridgeActions(br *bridge.Bridge) []action.Action {
	prim := func(name, description string, s schema.Schema, examples ...string) action.Action {
		return action.Action{
			Name:        name,
			Description: description,
			Examples:    examples,
			InputSchema: s,
			Steps:       []action.Step{action.Procedure(br.Primitive(name))},
		}
	}

	return []action.Action{
		prim("navigate",
			"Open a URL in the active tab.",
			schema.Object(map[string]schema.Property{
				"url": {Type: schema.TypeString, Description: "absolute URL to open"},
			}, "url"),
			"go to example.com"),
		prim("click",
			"Click an element on the current page.",
			schema.Object(map[string]schema.Property{
				"element_id": {Type: schema.TypeNumber, Description: "numeric id from the page listing"},
			}, "element_id"),
			"click the login button"),
		prim("fill_field",
			"Type text into an input element.",
			schema.Object(map[string]schema.Property{
				"element_id": {Type: schema.TypeNumber, Description: "numeric id from the page listing"},
				"text":       {Type: schema.TypeString, Description: "text to type"},
			}, "element_id", "text"),
			"type my name into the search box"),
		prim("scroll",
			"Scroll the current page.",
			schema.Object(map[string]schema.Property{
				"direction": {Type: schema.TypeString, Description: "up or down", Enum: []string{"up", "down"}},
			}, "direction")),
		prim("extract_page",
			"Extract the readable content of the current page.",
			schema.Object(map[string]schema.Property{
				"selector": {Type: schema.TypeString, Description: "optional CSS selector to narrow extraction"},
			}),
			"what does this page say?"),
	}
}
