package ecs

// Scheduler manages and executes systems in registration order.
type Scheduler struct {
	world   *World
	systems []System
}

// NewScheduler creates a new scheduler for the given world.
func NewScheduler(world *World) *Scheduler {
	return &Scheduler{
		world:   world,
		systems: make([]System, 0),
	}
}

// Register adds a system to the scheduler.
func (s *Scheduler) Register(system System) {
	s.systems = append(s.systems, system)
}

// Once executes all registered systems once with the given delta time.
// The deferred queue is drained after each system, so every system
// observes the structural changes of the systems before it.
func (s *Scheduler) Once(dt float64) {
	frame := &UpdateFrame{DeltaTime: dt, World: s.world}
	for _, system := range s.systems {
		system.Update(frame)
		s.world.Process()
	}
}
