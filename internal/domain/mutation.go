package domain

// MutationType tags the seven diagram mutation kinds exchanged between
// relay and clients. Cursor movement is not a mutation: it never touches
// the diagram.
type MutationType string

const (
	MutationClassAdded      MutationType = "class-added"
	MutationClassUpdated    MutationType = "class-updated"
	MutationClassDeleted    MutationType = "class-deleted"
	MutationRelationAdded   MutationType = "relation-added"
	MutationRelationUpdated MutationType = "relation-updated"
	MutationRelationDeleted MutationType = "relation-deleted"
)

// Mutation is the tagged union over the six diagram mutation kinds. Each
// variant carries a concretely typed payload; decoding from the wire happens
// at the transport boundary in the protocol package.
type Mutation interface {
	MutationType() MutationType
}

// ClassAdded appends a class if its id is not already present.
type ClassAdded struct {
	Class UMLClass
}

// ClassUpdated shallow-merges the set fields of the patch into the class
// matched by id.
type ClassUpdated struct {
	Patch ClassPatch
}

// ClassDeleted removes a class and cascades to every relation referencing it.
type ClassDeleted struct {
	ClassID string
}

// RelationAdded appends a relation if its id is not already present.
type RelationAdded struct {
	Relation UMLRelation
}

// RelationUpdated shallow-merges the set fields of the patch into the
// relation matched by id.
type RelationUpdated struct {
	Patch RelationPatch
}

// RelationDeleted removes a relation by id. An association class the relation
// carried is not deleted here; the originating client decides that separately.
type RelationDeleted struct {
	RelationID string
}

func (ClassAdded) MutationType() MutationType      { return MutationClassAdded }
func (ClassUpdated) MutationType() MutationType    { return MutationClassUpdated }
func (ClassDeleted) MutationType() MutationType    { return MutationClassDeleted }
func (RelationAdded) MutationType() MutationType   { return MutationRelationAdded }
func (RelationUpdated) MutationType() MutationType { return MutationRelationUpdated }
func (RelationDeleted) MutationType() MutationType { return MutationRelationDeleted }

// ClassPatch carries the fields of a class-updated mutation. Nil pointers
// mean "leave the current value alone".
type ClassPatch struct {
	ID          string          `json:"id"`
	Name        *string         `json:"name,omitempty"`
	Attributes  *[]UMLAttribute `json:"attributes,omitempty"`
	Methods     *[]UMLMethod    `json:"methods,omitempty"`
	Position    *Position       `json:"position,omitempty"`
	IsAbstract  *bool           `json:"isAbstract,omitempty"`
	IsInterface *bool           `json:"isInterface,omitempty"`
	Stereotype  *string         `json:"stereotype,omitempty"`
}

// MultiplicityPatch merges into a relation's multiplicity field by field,
// never replacing the pair wholesale.
type MultiplicityPatch struct {
	From *string `json:"from,omitempty"`
	To   *string `json:"to,omitempty"`
}

// RelationPatch carries the fields of a relation-updated mutation.
type RelationPatch struct {
	ID                 string             `json:"id"`
	FromClassID        *string            `json:"fromClassId,omitempty"`
	ToClassID          *string            `json:"toClassId,omitempty"`
	Type               *RelationType      `json:"type,omitempty"`
	Label              *string            `json:"label,omitempty"`
	Multiplicity       *MultiplicityPatch `json:"multiplicity,omitempty"`
	AssociationClassID *string            `json:"associationClassId,omitempty"`
}

// Apply merges a mutation into the diagram and reports whether the diagram
// changed. The rules are last-write-wins and idempotent under replay: adds
// are guarded by an id-presence check, updates to absent ids are dropped
// (update-before-add races are accepted), and deletes of absent ids are
// no-ops. The relay and every client run this same function, which is what
// makes late-join snapshots and broadcast application converge.
func (d *UMLDiagram) Apply(m Mutation) bool {
	switch mut := m.(type) {
	case ClassAdded:
		if d.FindClass(mut.Class.ID) != nil {
			return false
		}
		d.Classes = append(d.Classes, mut.Class.Clone())
		return true

	case ClassUpdated:
		cls := d.FindClass(mut.Patch.ID)
		if cls == nil {
			return false
		}
		applyClassPatch(cls, mut.Patch)
		return true

	case ClassDeleted:
		if d.FindClass(mut.ClassID) == nil {
			return false
		}
		// Class removal and the relation cascade happen in one step so no
		// reader ever observes a relation with a dangling endpoint.
		classes := d.Classes[:0]
		for _, c := range d.Classes {
			if c.ID != mut.ClassID {
				classes = append(classes, c)
			}
		}
		d.Classes = classes
		relations := d.Relations[:0]
		for _, r := range d.Relations {
			if !r.references(mut.ClassID) {
				relations = append(relations, r)
			}
		}
		d.Relations = relations
		return true

	case RelationAdded:
		if d.FindRelation(mut.Relation.ID) != nil {
			return false
		}
		d.Relations = append(d.Relations, mut.Relation.Clone())
		return true

	case RelationUpdated:
		rel := d.FindRelation(mut.Patch.ID)
		if rel == nil {
			return false
		}
		applyRelationPatch(rel, mut.Patch)
		return true

	case RelationDeleted:
		if d.FindRelation(mut.RelationID) == nil {
			return false
		}
		relations := d.Relations[:0]
		for _, r := range d.Relations {
			if r.ID != mut.RelationID {
				relations = append(relations, r)
			}
		}
		d.Relations = relations
		return true
	}
	return false
}

func applyClassPatch(cls *UMLClass, p ClassPatch) {
	if p.Name != nil {
		cls.Name = *p.Name
	}
	if p.Attributes != nil {
		cls.Attributes = append([]UMLAttribute(nil), *p.Attributes...)
	}
	if p.Methods != nil {
		cls.Methods = append([]UMLMethod(nil), *p.Methods...)
	}
	if p.Position != nil {
		cls.Position = *p.Position
	}
	if p.IsAbstract != nil {
		cls.IsAbstract = *p.IsAbstract
	}
	if p.IsInterface != nil {
		cls.IsInterface = *p.IsInterface
	}
	if p.Stereotype != nil {
		cls.Stereotype = *p.Stereotype
	}
}

func applyRelationPatch(rel *UMLRelation, p RelationPatch) {
	if p.FromClassID != nil {
		rel.FromClassID = *p.FromClassID
	}
	if p.ToClassID != nil {
		rel.ToClassID = *p.ToClassID
	}
	if p.Type != nil {
		rel.Type = *p.Type
	}
	if p.Label != nil {
		rel.Label = *p.Label
	}
	if p.Multiplicity != nil {
		if rel.Multiplicity == nil {
			rel.Multiplicity = &Multiplicity{}
		}
		if p.Multiplicity.From != nil {
			rel.Multiplicity.From = *p.Multiplicity.From
		}
		if p.Multiplicity.To != nil {
			rel.Multiplicity.To = *p.Multiplicity.To
		}
	}
	if p.AssociationClassID != nil {
		rel.AssociationClassID = *p.AssociationClassID
	}
}
