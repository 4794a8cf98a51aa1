package integration_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/seqlog/seqlog"
)

var _ = Describe("Empty dir bootstrap", func() {
	var dir string
	var producer *seqlog.Producer

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "seqlog-bootstrap")
		Expect(err).ToNot(HaveOccurred())

		producer, err = seqlog.OpenProducer(dir, seqlog.Options{})
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(producer.Close()).To(Succeed())
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("Should create an empty segment 0", func() {
		fi, err := os.Stat(filepath.Join(dir, "0000000000000000.log"))
		Expect(err).ToNot(HaveOccurred())
		Expect(fi.Size()).To(BeZero())
	})

	It("Should read nothing from Oldest", func() {
		consumer, err := seqlog.OpenConsumer(dir, seqlog.WhenceOldest)
		Expect(err).ToNot(HaveOccurred())
		defer consumer.Close()

		_, err = consumer.Read()
		Expect(err).To(Equal(seqlog.ErrEndOfLog))
	})
})

var _ = Describe("Three small writes", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "seqlog-writes")
		Expect(err).ToNot(HaveOccurred())

		producer, err := seqlog.OpenProducer(dir, seqlog.Options{})
		Expect(err).ToNot(HaveOccurred())
		defer producer.Close()

		for _, payload := range []string{"a", "bb", "ccc"} {
			_, err = producer.Append([]byte(payload))
			Expect(err).ToNot(HaveOccurred())
		}
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("Should replay them in order with contiguous offsets", func() {
		consumer, err := seqlog.OpenConsumer(dir, seqlog.WhenceOldest)
		Expect(err).ToNot(HaveOccurred())
		defer consumer.Close()

		for i, payload := range []string{"a", "bb", "ccc"} {
			mo, err := consumer.Read()
			Expect(err).ToNot(HaveOccurred())
			Expect(mo.Offset).To(Equal(uint64(i + 1)))
			Expect(string(mo.Message)).To(Equal(payload))
		}

		_, err = consumer.Read()
		Expect(err).To(Equal(seqlog.ErrEndOfLog))
	})
})

var _ = Describe("Rollover", func() {
	var dir string
	var producer *seqlog.Producer

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "seqlog-rollover")
		Expect(err).ToNot(HaveOccurred())

		// 10-byte payloads make 22-byte frames, over the 20-byte roll
		// size as soon as the segment holds one frame
		producer, err = seqlog.OpenProducer(dir, seqlog.Options{FileRollSize: 20})
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 3; i++ {
			_, err = producer.Append([]byte("0123456789"))
			Expect(err).ToNot(HaveOccurred())
		}
	})

	AfterEach(func() {
		Expect(producer.Close()).To(Succeed())
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("Should name each new segment after its first offset", func() {
		Expect(filepath.Join(dir, "0000000000000000.log")).To(BeAnExistingFile())
		Expect(filepath.Join(dir, "0000000000000002.log")).To(BeAnExistingFile())
		Expect(filepath.Join(dir, "0000000000000003.log")).To(BeAnExistingFile())
	})

	It("Should keep all offsets readable in order", func() {
		consumer, err := seqlog.OpenConsumer(dir, seqlog.WhenceOldest)
		Expect(err).ToNot(HaveOccurred())
		defer consumer.Close()

		for want := uint64(1); want <= 3; want++ {
			mo, err := consumer.Read()
			Expect(err).ToNot(HaveOccurred())
			Expect(mo.Offset).To(Equal(want))
		}
	})
})

var _ = Describe("Crash replay", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "seqlog-crash")
		Expect(err).ToNot(HaveOccurred())

		producer, err := seqlog.OpenProducer(dir, seqlog.Options{SyncPolicy: seqlog.SyncAlways()})
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 5; i++ {
			_, err = producer.Append([]byte("steady"))
			Expect(err).ToNot(HaveOccurred())
		}
		Expect(producer.Close()).To(Succeed())

		// simulated partial write
		f, err := os.OpenFile(filepath.Join(dir, "0000000000000000.log"), os.O_WRONLY|os.O_APPEND, 0666)
		Expect(err).ToNot(HaveOccurred())
		_, err = f.Write([]byte{7, 7, 7, 7, 7, 7, 7})
		Expect(err).ToNot(HaveOccurred())
		Expect(f.Close()).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("Should truncate the partial frame and resume at offset 5", func() {
		producer, err := seqlog.OpenProducer(dir, seqlog.Options{})
		Expect(err).ToNot(HaveOccurred())
		defer producer.Close()

		Expect(producer.MaxOffset()).To(Equal(uint64(5)))

		fi, err := os.Stat(filepath.Join(dir, "0000000000000000.log"))
		Expect(err).ToNot(HaveOccurred())
		Expect(fi.Size()).To(Equal(int64(5 * (12 + len("steady")))))

		consumer, err := seqlog.OpenConsumer(dir, seqlog.WhenceOldest)
		Expect(err).ToNot(HaveOccurred())
		defer consumer.Close()

		var frames int
		for {
			if _, err = consumer.Read(); err != nil {
				break
			}
			frames++
		}
		Expect(frames).To(Equal(5))
	})
})

var _ = Describe("Seek middle", func() {
	var dir string
	var producer *seqlog.Producer

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "seqlog-seek")
		Expect(err).ToNot(HaveOccurred())

		// 25 frames of 22 bytes per segment
		producer, err = seqlog.OpenProducer(dir, seqlog.Options{FileRollSize: 25 * 22})
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 100; i++ {
			_, err = producer.Append([]byte("0123456789"))
			Expect(err).ToNot(HaveOccurred())
		}
	})

	AfterEach(func() {
		Expect(producer.Close()).To(Succeed())
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("Should span four segments", func() {
		inf, err := producer.Info()
		Expect(err).ToNot(HaveOccurred())
		Expect(len(inf.Segments)).To(Equal(4))
	})

	It("Should position exactly on offset 60", func() {
		consumer, err := seqlog.OpenConsumer(dir, seqlog.WhencePosition(60))
		Expect(err).ToNot(HaveOccurred())
		defer consumer.Close()

		mo, err := consumer.Read()
		Expect(err).ToNot(HaveOccurred())
		Expect(mo.Offset).To(Equal(uint64(60)))
		Expect(string(mo.Message)).To(Equal("0123456789"))
	})
})

var _ = Describe("Latest consumer", func() {
	var dir string
	var producer *seqlog.Producer
	var consumer *seqlog.Consumer

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "seqlog-latest")
		Expect(err).ToNot(HaveOccurred())

		producer, err = seqlog.OpenProducer(dir, seqlog.Options{})
		Expect(err).ToNot(HaveOccurred())

		_, err = producer.Append([]byte("before"))
		Expect(err).ToNot(HaveOccurred())

		consumer, err = seqlog.OpenConsumer(dir, seqlog.WhenceLatest)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(consumer.Close()).To(Succeed())
		Expect(producer.Close()).To(Succeed())
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("Should read nothing until the producer appends", func() {
		_, err := consumer.Read()
		Expect(err).To(Equal(seqlog.ErrEndOfLog))

		_, err = producer.Append([]byte("after"))
		Expect(err).ToNot(HaveOccurred())

		Expect(consumer.Refresh()).To(Succeed())
		Expect(consumer.Seek(seqlog.WhencePosition(consumer.LastOffset() + 1))).To(Succeed())

		mo, err := consumer.Read()
		Expect(err).ToNot(HaveOccurred())
		Expect(mo.Offset).To(Equal(uint64(2)))
		Expect(string(mo.Message)).To(Equal("after"))
	})
})
