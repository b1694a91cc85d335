package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"time"
)

var (
	addr  = flag.String("addr", "localhost:8888", "Address of the stream generator")
	seed  = flag.String("seed", "", "Seed line to send, for servers that ask for one")
	count = flag.Int("n", 1000, "Number of values to read")
	top   = flag.Int("top", 10, "How many of the most frequent values to print")
)

type tally struct {
	value uint64
	count int
}

func main() {
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("Unable to connect to %s: %s", *addr, err)
	}
	defer conn.Close()

	if *seed != "" {
		if _, err := fmt.Fprintf(conn, "%s\n", *seed); err != nil {
			log.Fatalf("Unable to send seed: %s", err)
		}
	}

	counts := make(map[uint64]int, *count)
	scanner := bufio.NewScanner(conn)
	startTime := time.Now()

	read := 0
	for read < *count && scanner.Scan() {
		v, err := strconv.ParseUint(scanner.Text(), 10, 64)
		if err != nil {
			log.Fatalf("Bad value after %d reads: %q", read, scanner.Text())
		}
		counts[v]++
		read++
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Read failed: %s\n", err)
	}

	elapsed := time.Since(startTime)
	fmt.Printf("Read %d values in %.2fs (%.2f values/sec), %d distinct\n",
		read, elapsed.Seconds(), float64(read)/elapsed.Seconds(), len(counts))

	tallies := make([]tally, 0, len(counts))
	for v, c := range counts {
		tallies = append(tallies, tally{value: v, count: c})
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].count == tallies[j].count {
			return tallies[i].value < tallies[j].value
		}
		return tallies[i].count > tallies[j].count
	})

	for i := 0; i < *top && i < len(tallies); i++ {
		fmt.Printf("%12d  %6d  %5.2f%%\n", tallies[i].value, tallies[i].count,
			100*float64(tallies[i].count)/float64(read))
	}
}
