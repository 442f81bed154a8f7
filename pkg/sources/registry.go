package sources

// DefaultRegistry builds the Registry wired with every adapter this repo
// ships, for use by cmd/ingester and cmd/full-pipeline (§6 "--apis <csv>").
func DefaultRegistry() *Registry {
	fetcher := NewHTTPFetcher()
	r := NewRegistry()
	r.Register(NewKEXPAdapter(fetcher))
	r.Register(NewConorByrneAdapter(fetcher))
	r.Register(NewSeaMonsterAdapter(fetcher))
	r.Register(NewDarrellsTavernAdapter(fetcher))
	r.Register(NewSunsetTavernAdapter(fetcher))
	r.Register(NewBlueMoonAdapter(fetcher))
	return r
}
