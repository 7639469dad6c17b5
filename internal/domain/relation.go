package domain

// RelationType is the kind of a UML relation.
type RelationType string

const (
	RelationAssociation      RelationType = "association"
	RelationAggregation      RelationType = "aggregation"
	RelationComposition      RelationType = "composition"
	RelationInheritance      RelationType = "inheritance"
	RelationRealization      RelationType = "realization"
	RelationDependency       RelationType = "dependency"
	RelationAssociationClass RelationType = "associationClass"
)

// ValidRelationType reports whether t is a member of the relation type
// enumeration.
func ValidRelationType(t RelationType) bool {
	switch t {
	case RelationAssociation, RelationAggregation, RelationComposition,
		RelationInheritance, RelationRealization, RelationDependency,
		RelationAssociationClass:
		return true
	}
	return false
}

// Multiplicity holds the optional from/to multiplicity pair of a relation.
type Multiplicity struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// UMLRelation connects two classes of the same diagram. A reflexive relation
// (FromClassID == ToClassID) is permitted. AssociationClassID, when set,
// references a class that reifies the relation itself.
type UMLRelation struct {
	ID                 string        `json:"id"`
	FromClassID        string        `json:"fromClassId"`
	ToClassID          string        `json:"toClassId"`
	Type               RelationType  `json:"type"`
	Label              string        `json:"label,omitempty"`
	Multiplicity       *Multiplicity `json:"multiplicity,omitempty"`
	AssociationClassID string        `json:"associationClassId,omitempty"`
}

// Clone returns a deep copy of the relation.
func (r UMLRelation) Clone() UMLRelation {
	out := r
	if r.Multiplicity != nil {
		m := *r.Multiplicity
		out.Multiplicity = &m
	}
	return out
}

// references reports whether the relation points at the given class id via
// either endpoint or its association class.
func (r *UMLRelation) references(classID string) bool {
	return r.FromClassID == classID || r.ToClassID == classID || r.AssociationClassID == classID
}
