package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"comail.io/go/colog"
	"github.com/ninibe/bigduration"

	"github.com/seqlog/seqlog"
)

var (
	dataDir  = flag.String("dir", "demo", "Log directory")
	logLevel = flag.String("loglevel", "info", "Logging level")
)

func main() {
	flag.Parse()
	colog.Register()

	ll, err := colog.ParseLevel(*logLevel)
	panicOn(err)
	colog.SetMinLevel(ll)

	usage := `Usage: go run example.go [step1] [step2] ...`

	if flag.NArg() == 0 {
		println(usage)
		return
	}

	switch flag.Arg(0) {
	case "step1":
		step1()
	case "step2":
		step2()
	case "step3":
		step3()
	case "step4":
		step4()
	case "step5":
		step5()
	default:
		println(usage)
	}
}

// Producing demo
func step1() {
	// Open a producer on the demo directory; segment 0 is created if the
	// directory is empty
	producer, err := seqlog.OpenProducer(*dataDir, seqlog.Options{})
	panicOn(err)
	defer logClose(producer)

	// Append one message, could be any blob of bytes
	offset, err := producer.Append([]byte("some data"))
	panicOn(err)
	log.Printf("info: appended at offset %d", offset)

	println("inspect your segment:")
	println("xxd " + *dataDir + "/0000000000000000.log")
}

// Rollover demo
func step2() {
	// A tiny roll size forces a fresh segment per append
	producer, err := seqlog.OpenProducer(*dataDir, seqlog.Options{FileRollSize: 64})
	panicOn(err)
	defer logClose(producer)

	for i := 0; i < 3; i++ {
		_, err = producer.Append([]byte("some more data to fill segments"))
		panicOn(err)
	}

	println("inspect your segments:")
	println("ls " + *dataDir)
}

// Consuming demo
func step3() {
	producer, err := seqlog.OpenProducer(*dataDir, seqlog.Options{})
	panicOn(err)
	defer logClose(producer)

	consumer, err := producer.NewConsumer(seqlog.WhenceOldest)
	panicOn(err)
	defer logClose(consumer)

	for {
		mo, err := consumer.Read()
		if err == seqlog.ErrEndOfLog {
			break
		}
		panicOn(err)

		fmt.Printf("offset = %d data = %s\n", mo.Offset, mo.Message)
	}
}

// Blocking scan demo
func step4() {
	producer, err := seqlog.OpenProducer(*dataDir, seqlog.Options{})
	panicOn(err)
	defer logClose(producer)

	consumer, err := producer.NewConsumer(seqlog.WhenceLatest)
	panicOn(err)
	defer logClose(consumer)

	go func() {
		for i := 0; i < 5; i++ {
			_, _ = producer.Append([]byte("live data"))
			time.Sleep(time.Second)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	for {
		mo, err := consumer.Scan(ctx)
		if err != nil {
			break
		}

		fmt.Printf("offset = %d data = %s\n", mo.Offset, mo.Message)
	}
}

// Retention demo
func step5() {
	age, err := bigduration.ParseBigDuration("1day")
	panicOn(err)

	producer, err := seqlog.OpenProducer(*dataDir, seqlog.Options{
		FileRollSize:  64,
		MaxTotalBytes: 512,
		MaxFileAge:    age,
	})
	panicOn(err)
	defer logClose(producer)

	for i := 0; i < 32; i++ {
		_, err = producer.Append([]byte("pushing old segments out"))
		panicOn(err)
	}

	monitor := seqlog.NewRetentionMonitor(producer, bigduration.BigDuration{Nanos: 100 * time.Millisecond})
	monitor.Start()
	time.Sleep(time.Second)
	monitor.Stop()

	info, err := producer.Info()
	panicOn(err)
	fmt.Printf("disk size = %d first offset = %d segments = %d\n",
		info.DiskSize, info.FirstOffset, len(info.Segments))
}

func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}

func logClose(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("error: %s", err)
	}
}
