package daemon

import (
	"poolnet"
	"poolnet/config"
)

type algorithmSetter interface {
	SetAlgorithms(algos poolnet.Algorithms)
}

// reloader applies a reloaded config: the miner's enabled algorithms first,
// so a swapped strategy logs in with the new list, then the pools.
type reloader struct {
	miner   algorithmSetter
	network config.Listener
}

func (r reloader) OnConfigChanged(next, prev *config.Config) {
	if next == nil {
		return
	}
	r.miner.SetAlgorithms(next.EnabledAlgorithms())
	r.network.OnConfigChanged(next, prev)
}
