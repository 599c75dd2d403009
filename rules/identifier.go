package rules

import "regexp"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedKeywords cannot be declared as expression variables
var reservedKeywords = map[string]bool{
	"true": true, "false": true, "null": true,
	"if": true, "else": true, "for": true, "while": true,
	"break": true, "continue": true, "return": true,
	"var": true, "let": true, "const": true, "function": true,
	"in": true, "as": true, "import": true, "package": true,
	"namespace": true, "loop": true, "void": true,
}

// IsIdentifier reports whether name can be referenced from a derived field
// expression: a letter or underscore followed by letters, digits or
// underscores, at most 100 characters, and not a reserved keyword
func IsIdentifier(name string) bool {
	return len(name) <= 100 && identifierPattern.MatchString(name) && !reservedKeywords[name]
}

// IsReservedKeyword reports whether name is reserved by the expression language
func IsReservedKeyword(name string) bool {
	return reservedKeywords[name]
}
