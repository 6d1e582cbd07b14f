package ecs_test

import "github.com/plus3/relic/ecs"

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Name struct {
	Value string
}

type Health struct {
	Current int
	Max     int
}

type Unit struct {
	Kind string
}

type Frozen struct{}

type Person struct{}

type Score int32

// Relation marker types
type Attack struct{}

type Spouse struct{}

type Contains struct{}

type IsA struct{}

type Likes struct{}

func newTestWorld() *ecs.World {
	w := ecs.NewWorld()
	ecs.RegisterComponent[Position](w)
	ecs.RegisterComponent[Velocity](w)
	ecs.RegisterComponent[Name](w)
	ecs.RegisterComponent[Health](w)
	ecs.RegisterComponent[Unit](w)
	ecs.RegisterComponent[Frozen](w)
	ecs.RegisterComponent[Person](w)
	ecs.RegisterComponent[Score](w)
	ecs.RegisterRelation[Attack](w, 0)
	ecs.RegisterRelation[Spouse](w, ecs.Symmetric|ecs.Exclusive)
	ecs.RegisterRelation[Contains](w, ecs.Cascading)
	ecs.RegisterRelation[IsA](w, ecs.Transitive)
	ecs.RegisterRelation[Likes](w, 0)
	return w
}
