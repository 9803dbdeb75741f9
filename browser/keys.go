package browser

type keyDefinition struct {
	key     string
	code    string
	text    string
	keyCode int
}

// keyDefinitions covers the named keys the login flow and its tests send.
// Keys with text produce a keypress, which is what triggers implicit form
// submission on Enter.
var keyDefinitions = map[string]keyDefinition{
	"Enter":     {key: "Enter", code: "Enter", text: "\r", keyCode: 13},
	"Tab":       {key: "Tab", code: "Tab", keyCode: 9},
	"Escape":    {key: "Escape", code: "Escape", keyCode: 27},
	"Backspace": {key: "Backspace", code: "Backspace", keyCode: 8},
}
