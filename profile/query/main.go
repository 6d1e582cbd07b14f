// Profiling:
//   go build ./profile/query
//   go tool pprof -http=":8000" -nodefraction=0.001 ./query mem.pprof

package main

import (
	"github.com/pkg/profile"

	"github.com/plus3/relic/ecs"
)

type comp1 struct {
	V int64
	W int64
}

type comp2 struct {
	V int64
	W int64
}

func main() {
	count := 50
	iters := 100
	entities := 10000
	p := profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
	run(count, iters, entities)
	p.Stop()
}

func run(rounds, iters, numEntities int) {
	for range rounds {
		w := ecs.NewWorld()
		ecs.RegisterComponent[comp1](w)
		ecs.RegisterComponent[comp2](w)
		for range numEntities {
			e := w.CreateEntity()
			ecs.AddComponent(w, e, comp1{V: 1, W: 2})
			ecs.AddComponent(w, e, comp2{V: 3, W: 4})
		}

		for range iters {
			q := w.Query(ecs.Mut[comp1](), ecs.In[comp2]())
			for row := range q.Rows() {
				c1 := row.Component(0).(*comp1)
				c2 := row.Component(1).(*comp2)
				c1.V += c2.V
				c1.W += c2.W
			}
		}
	}
}
