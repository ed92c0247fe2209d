package rip

// Update is spec.md's rip.update — the per-entry, per-class
// distance-vector update rule called once per (network, metric)
// pair in an incoming RIP packet. fromPort is the port the
// advertisement arrived on; split-horizon means an entry already
// learned via a different port only yields to a strictly better
// metric, never an equal one.
func (t *Table) Update(network uint32, class Class, metric uint8, fromPort int, gatewayNode uint32, nextHopAddr [12]byte) {
	if metric > class.Infinity() {
		metric = class.Infinity()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreate(network)
	t.updateIntLocked(e, class, metric, fromPort, gatewayNode, nextHopAddr)
}

// updateIntLocked is spec.md's update_int. Caller must hold t.mu.
func (t *Table) updateIntLocked(e *entry, class Class, metric uint8, fromPort int, gatewayNode uint32, nextHopAddr [12]byte) {
	r := &e.routes[class]
	inf := class.Infinity()

	switch {
	case metric >= inf:
		if r.State == Valid || r.State == Aging {
			r.State = Aging
			r.RecentChange = true
			r.Age = ageTicks
		}
	case r.State == Free || r.State == Dead:
		*r = Route{Metric: metric, Port: fromPort, NextHopAddr: nextHopAddr, GatewayNode: gatewayNode, State: Valid, Age: ageTicks, RecentChange: true}
	case metric < r.Metric || (metric == r.Metric && r.Port == fromPort):
		*r = Route{Metric: metric, Port: fromPort, NextHopAddr: nextHopAddr, GatewayNode: gatewayNode, State: Valid, Age: ageTicks, RecentChange: true}
	default:
		// Worse or equal metric from a different next hop: ignore,
		// per spec.md §4.3's split-horizon-friendly rule.
	}
}

// RetractNetwork installs an infinity-metric route for network in
// class c, used when a source's advertised network disagrees with the
// port's recorded one (spec.md §4.3 step 5: "retract the old network
// (metric 16)").
func (t *Table) RetractNetwork(network uint32, c Class) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[network]
	if !ok {
		return
	}
	r := &e.routes[c]
	if r.State == Valid || r.State == Aging {
		r.State = Aging
		r.Metric = c.Infinity()
		r.RecentChange = true
		r.Age = ageTicks
	}
}

// Tick runs one iteration of spec.md §4.3's coarse aging timer:
// decrement age on every valid entry, transition valid->aging->dead on
// expiry, reclaim dead entries, and mark recent-changes on every
// state transition.
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for net, e := range t.entries {
		allDead := true
		for c := Class(0); c < numClasses; c++ {
			r := &e.routes[c]
			switch r.State {
			case Valid:
				r.Age--
				if r.Age <= 0 {
					r.State = Aging
					r.Age = ageTicks
					r.RecentChange = true
				}
				allDead = false
			case Aging:
				r.Age--
				if r.Age <= 0 {
					r.State = Dead
					r.RecentChange = true
				} else {
					allDead = false
				}
			case Free:
				// not reachable via this class; doesn't block reclaim
			default: // Dead
			}
		}
		if allDead {
			delete(t.entries, net)
		}
	}
}
