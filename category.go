package serializer

import "fmt"

// Category is the closed set of value shapes a frame can carry.
type Category byte

const (
	CategoryNull      Category = 0
	CategoryPrimitive Category = 1
	CategoryList      Category = 2
	CategoryMap       Category = 3
	CategoryStruct    Category = 4
	CategoryBytes     Category = 5
	CategoryJSON      Category = 6
)

var categoryNames = [...]string{
	CategoryNull:      "null",
	CategoryPrimitive: "primitive",
	CategoryList:      "list",
	CategoryMap:       "map",
	CategoryStruct:    "struct",
	CategoryBytes:     "bytes",
	CategoryJSON:      "json",
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c <= CategoryJSON
}

// Encryptable reports whether values of this category take the outer
// envelope pass when a keystore is supplied.
func (c Category) Encryptable() bool {
	switch c {
	case CategoryList, CategoryMap, CategoryStruct, CategoryJSON:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", byte(c))
	}
	return categoryNames[c]
}
