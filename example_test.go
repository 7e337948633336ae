package rowcache_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/rowcache"
	"github.com/hupe1980/rowcache/cache"
	"github.com/hupe1980/rowcache/rowstore"
)

func Example() {
	ctx := context.Background()

	store, err := rowstore.NewMemoryStore(4, rowstore.UniformInit{})
	if err != nil {
		log.Fatal(err)
	}

	eng, err := rowcache.New(store, 1000, 4, func(o *rowcache.Options) {
		o.CacheRows = 4
		o.Associativity = 2
		o.PrefetchDist = 0
		o.SetFunc = cache.ModuloSetFunc
	})
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	batch, err := eng.Lookup(ctx, []int64{3, -1, 3, 5})
	if err != nil {
		log.Fatal(err)
	}

	resolved, err := batch.Wait(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for _, addr := range resolved.Addresses {
		fmt.Println(addr)
	}

	if err := batch.Retire(ctx); err != nil {
		log.Fatal(err)
	}

	// Output:
	// addr(cache:2)
	// addr(none)
	// addr(cache:2)
	// addr(cache:3)
}
