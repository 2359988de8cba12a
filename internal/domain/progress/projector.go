package progress

// Project derives the visual status of every pipeline node from session
// state. It is a total, side-effect-free function: every node in the graph
// receives a status for every reachable session state, and it is recomputed
// on each update rather than stored.
func Project(s *ScanSession) map[NodeID]NodeStatus {
	graph := GraphFor(s.Kind())

	statuses := make(map[NodeID]NodeStatus, len(graph.Nodes))
	for _, n := range graph.Nodes {
		statuses[n.ID] = NodeStatusPending
	}

	switch s.Phase() {
	case PhaseIdle, PhaseStarting:
		// Nothing accepted yet; the spinner belongs to the session overlay,
		// not to any node.

	case PhaseComplete:
		for _, n := range graph.Nodes {
			statuses[n.ID] = NodeStatusCompleted
		}

	case PhaseError:
		// Attribute the failure to the stage that was running when the error
		// arrived. An error before any recognized progress lands on the
		// entry node.
		b, ok := bindingFor(s.Kind(), s.LastStage())
		if !ok {
			statuses[graph.EntryNode()] = NodeStatusError
			return statuses
		}
		for _, id := range b.completed {
			statuses[id] = NodeStatusCompleted
		}
		for _, id := range b.active {
			statuses[id] = NodeStatusError
		}

	case PhaseRunning, PhaseCancelled:
		// Cancelled sessions keep rendering their last observed state until
		// the overlay goes away.
		evt := s.LastEvent()
		if evt == nil {
			return statuses
		}
		b, ok := bindingFor(s.Kind(), evt.StageName())
		if !ok {
			// The server reported a stage this client has not been taught
			// about. Degrade to entry-node-active rather than failing.
			statuses[graph.EntryNode()] = NodeStatusActive
			return statuses
		}
		for _, id := range b.completed {
			statuses[id] = NodeStatusCompleted
		}
		for _, id := range b.active {
			statuses[id] = NodeStatusActive
		}
	}

	return statuses
}
