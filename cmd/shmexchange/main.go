package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aradilov/shmexchange"
	"github.com/valyala/fastrand"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <index>\n", os.Args[0])
		os.Exit(1)
	}
	index, err := strconv.Atoi(os.Args[1])
	if err != nil || index < 0 || index >= shmexchange.NumProcesses {
		fmt.Fprintf(os.Stderr, "process index must be an integer in [0, %d)\n", shmexchange.NumProcesses)
		os.Exit(1)
	}

	// The producer comes first: every process creates its own region before
	// waiting on anyone else's, otherwise two processes could wait on each
	// other forever.
	producer, err := shmexchange.NewProducer(index)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("%d: waiting for other processes\n", index)
	var consumers []*shmexchange.Consumer
	for i := 0; i < shmexchange.NumProcesses; i++ {
		if i == index {
			continue
		}
		c, err := shmexchange.NewConsumer(context.Background(), index, i)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		consumers = append(consumers, c)
	}
	fmt.Printf("%d: ready\n", index)

	var value uint64
	for {
		for _, c := range consumers {
			if !c.HasMessage() {
				fmt.Printf("%d: read info from %d: empty\n", index, c.ProducerIndex)
				continue
			}
			msg, err := c.Lock()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("%d: read info from %d: %d\n", index, c.ProducerIndex, msg.Val)
			if err := c.Unlock(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}

		value++
		fmt.Printf("%d: write %d\n", index, value)
		if err := producer.Publish(shmexchange.Message{Val: value}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		time.Sleep(time.Duration(1+fastrand.Uint32n(1_000_000)) * time.Microsecond)
	}
}
