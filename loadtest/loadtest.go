package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ssuji15/trainpool/internal/client"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/distributor"
	"github.com/ssuji15/trainpool/model"
)

// syntheticDataset builds rows of two noisy features with a threshold
// label, large enough to keep a training child busy for a moment.
func syntheticDataset(rows int) (*model.Dataset, error) {
	rnd := rand.New(rand.NewPCG(1, 2))
	x := make([]float64, rows)
	y := make([]float64, rows)
	labels := make([]uint32, rows)
	for i := range rows {
		x[i] = rnd.Float64() * 100
		y[i] = rnd.NormFloat64()
		if x[i]+y[i]*5 > 50 {
			labels[i] = 1
		}
	}
	return model.NewDataset([]model.Column{
		{Name: "x", Type: model.Continuous, Values: x},
		{Name: "y", Type: model.Continuous, Values: y},
	}, model.Column{Name: "label", Type: model.Categorical, Categories: labels, Classes: []string{"low", "high"}})
}

func main() {
	cfg, err := config.GetClientConfig()
	if err != nil {
		log.Fatalf("client config error: %v", err)
	}
	if len(cfg.REMOTE_SERVERS) == 0 {
		log.Fatalf("%v", client.ErrNoRemoteServers)
	}

	totalRequests := 100
	ratePerSecond := 5

	ctx := context.Background()
	d, err := syntheticDataset(5000)
	if err != nil {
		log.Fatal(err)
	}
	c := client.New(cfg.REMOTE_SERVERS, client.OptionsFromConfig(cfg))
	servers, err := distributor.New(c, cfg.REMOTE_SERVERS, cfg.NUM_SEEDED_HOSTS, nil).Distribute(ctx, d)
	if err != nil {
		log.Fatalf("distribute: %v", err)
	}
	c = c.Subset(servers)
	fmt.Printf("dataset %s on %d servers\n", d.Hash, len(servers))

	ticker := time.NewTicker(time.Second / time.Duration(ratePerSecond))
	defer ticker.Stop()

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	strategies := []string{"majority", "stump"}

	for i := 1; i <= totalRequests; i++ {
		<-ticker.C

		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			start := time.Now()
			h, err := c.Start(ctx, strategies[n%len(strategies)], d)
			if err != nil {
				failed.Add(1)
				fmt.Printf("Request %d: dispatch error: %v\n", n, err)
				return
			}
			code, err := h.ReadResult()
			if err != nil || code == nil {
				failed.Add(1)
				fmt.Printf("Request %d -> %s: no code (%v)\n", n, h.Server(), err)
				return
			}
			fmt.Printf("Request %d -> %s: score %d/%d in %s\n", n, h.Server(), code.Score(d), d.Rows, time.Since(start))
		}(i)
	}

	wg.Wait()
	fmt.Printf("All requests completed, %d failed\n", failed.Load())
}
