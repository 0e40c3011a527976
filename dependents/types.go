package dependents

// kinds classifies relkind codes of the dependents query. A nil label marks
// kinds whose label and display name are derived from the row.
var kinds = map[string]*string{
	"r": label("table"),
	"i": nil,
	"S": label("sequence"),
	"v": label("view"),
	"x": label("external_table"),
	"p": label("function"),
	"n": label("schema"),
	"y": label("type"),
	"d": label("domain"),
	"T": label("trigger_function"),
	"C": label("conversion"),
	"o": nil,
}

func label(s string) *string { return &s }

// classify returns the record type and display name for one dependents row.
// ok is false for kinds that are not reported.
func classify(relkind, schema, relname, indname string) (typ, name string, ok bool) {
	l, known := kinds[relkind]
	if !known {
		return "", "", false
	}

	qualified := relname
	if schema != "" {
		qualified = schema + "." + relname
	}
	if l != nil {
		return *l, qualified, true
	}

	switch relkind {
	case "i":
		return "index", indname + " ON " + qualified, true
	case "o":
		return "operator", relname, true
	}
	return "", "", false
}
