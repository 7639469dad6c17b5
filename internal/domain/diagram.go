// Package domain defines the shared diagram model and the merge rules that
// both the relay server and the client-side store apply, so that every
// participant converges on the same state from the same mutation stream.
package domain

import (
	"github.com/google/uuid"
)

// Visibility of a class member.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityProtected Visibility = "protected"
	VisibilityPackage   Visibility = "package"
)

// VisibilitySymbols maps a visibility to its UML prefix symbol.
var VisibilitySymbols = map[Visibility]string{
	VisibilityPublic:    "+",
	VisibilityPrivate:   "-",
	VisibilityProtected: "#",
	VisibilityPackage:   "~",
}

// Position is a 2D canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UMLAttribute is a single attribute of a class.
type UMLAttribute struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Visibility   Visibility `json:"visibility"`
	IsStatic     bool       `json:"isStatic,omitempty"`
	IsPrimaryKey bool       `json:"isPrimaryKey,omitempty"`
	IsForeignKey bool       `json:"isForeignKey,omitempty"`
	IsUnique     bool       `json:"isUnique,omitempty"`
	IsNullable   bool       `json:"isNullable,omitempty"`
	DefaultValue string     `json:"defaultValue,omitempty"`
	ColumnName   string     `json:"columnName,omitempty"`
}

// UMLParameter is a method parameter.
type UMLParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UMLMethod is a single method of a class.
type UMLMethod struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	ReturnType string         `json:"returnType"`
	Parameters []UMLParameter `json:"parameters"`
	Visibility Visibility     `json:"visibility"`
	IsStatic   bool           `json:"isStatic,omitempty"`
	IsAbstract bool           `json:"isAbstract,omitempty"`
}

// UMLClass is a class entity, owned exclusively by its diagram.
type UMLClass struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Attributes  []UMLAttribute `json:"attributes"`
	Methods     []UMLMethod    `json:"methods,omitempty"`
	Position    Position       `json:"position"`
	IsAbstract  bool           `json:"isAbstract,omitempty"`
	IsInterface bool           `json:"isInterface,omitempty"`
	Stereotype  string         `json:"stereotype,omitempty"`
}

// UMLDiagram is the unit of synchronization: one per room, ephemeral,
// bounded by the room's lifetime.
type UMLDiagram struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Classes   []UMLClass    `json:"classes"`
	Relations []UMLRelation `json:"relations"`
}

// NewDiagram creates an empty diagram with a fresh id.
func NewDiagram(name string) UMLDiagram {
	return UMLDiagram{
		ID:        uuid.NewString(),
		Name:      name,
		Classes:   []UMLClass{},
		Relations: []UMLRelation{},
	}
}

// FindClass returns the class with the given id, or nil.
func (d *UMLDiagram) FindClass(id string) *UMLClass {
	for i := range d.Classes {
		if d.Classes[i].ID == id {
			return &d.Classes[i]
		}
	}
	return nil
}

// FindRelation returns the relation with the given id, or nil.
func (d *UMLDiagram) FindRelation(id string) *UMLRelation {
	for i := range d.Relations {
		if d.Relations[i].ID == id {
			return &d.Relations[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the diagram. Callers receive snapshots they
// can mutate without aliasing the shared state.
func (d UMLDiagram) Clone() UMLDiagram {
	out := d
	out.Classes = make([]UMLClass, len(d.Classes))
	for i, c := range d.Classes {
		out.Classes[i] = c.Clone()
	}
	out.Relations = make([]UMLRelation, len(d.Relations))
	for i, r := range d.Relations {
		out.Relations[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of the class.
func (c UMLClass) Clone() UMLClass {
	out := c
	out.Attributes = append([]UMLAttribute(nil), c.Attributes...)
	if c.Methods != nil {
		out.Methods = make([]UMLMethod, len(c.Methods))
		for i, m := range c.Methods {
			out.Methods[i] = m
			out.Methods[i].Parameters = append([]UMLParameter(nil), m.Parameters...)
		}
	}
	return out
}
