package eventlog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type EventLogTestSuite struct {
	suite.Suite
}

func TestEventLogSuite(t *testing.T) {
	suite.Run(t, new(EventLogTestSuite))
}

func (suite *EventLogTestSuite) TestAppendAndRecent() {
	log := New(10)
	log.Append("first")
	log.Append("second")
	log.Append("third")

	entries := log.Recent(10)
	suite.Len(entries, 3)
	suite.Equal("third", entries[0].Message)
	suite.Equal("second", entries[1].Message)
	suite.Equal("first", entries[2].Message)
}

func (suite *EventLogTestSuite) TestRecentRespectsLimit() {
	log := New(10)
	for i := 0; i < 5; i++ {
		log.Appendf("entry %d", i)
	}

	entries := log.Recent(2)
	suite.Len(entries, 2)
	suite.Equal("entry 4", entries[0].Message)
	suite.Equal("entry 3", entries[1].Message)
}

func (suite *EventLogTestSuite) TestEvictionBeyondCapacity() {
	log := New(3)
	for i := 0; i < 7; i++ {
		log.Appendf("entry %d", i)
	}

	suite.Equal(3, log.Size())

	entries := log.Recent(10)
	suite.Len(entries, 3)
	suite.Equal("entry 6", entries[0].Message)
	suite.Equal("entry 5", entries[1].Message)
	suite.Equal("entry 4", entries[2].Message)
}

func (suite *EventLogTestSuite) TestRecentZeroAndNegativeLimit() {
	log := New(5)
	log.Append("entry")

	suite.Empty(log.Recent(0))
	suite.Empty(log.Recent(-1))
}

func (suite *EventLogTestSuite) TestOrderingIsMonotonic() {
	log := New(100)
	for i := 0; i < 50; i++ {
		log.Appendf("entry %d", i)
	}

	entries := log.Recent(50)
	for i, entry := range entries {
		suite.Equal(fmt.Sprintf("entry %d", 49-i), entry.Message)
	}
}

func (suite *EventLogTestSuite) TestConcurrentAppends() {
	log := New(1000)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				log.Appendf("goroutine %d entry %d", g, i)
			}
		}(g)
	}
	wg.Wait()

	suite.Equal(1000, log.Size())
	suite.Len(log.Recent(1000), 1000)
}

func (suite *EventLogTestSuite) TestMirrorSeesEveryEntry() {
	log := New(10)

	var mirrored []string

	log.SetMirror(func(entry Entry) {
		mirrored = append(mirrored, entry.Message)
	})

	log.Append("one")
	log.Appendf("t%s", "wo")

	suite.Equal([]string{"one", "two"}, mirrored)
}

func (suite *EventLogTestSuite) TestSubscribeReceivesNewEntries() {
	log := New(10)
	ch, cancel := log.Subscribe(4)
	defer cancel()

	log.Append("broadcast")

	entry := <-ch
	suite.Equal("broadcast", entry.Message)
}

func (suite *EventLogTestSuite) TestSubscribeDropsWhenFull() {
	log := New(10)
	ch, cancel := log.Subscribe(1)
	defer cancel()

	log.Append("kept")
	log.Append("dropped")

	entry := <-ch
	suite.Equal("kept", entry.Message)

	select {
	case extra := <-ch:
		suite.Failf("unexpected entry", "got %q", extra.Message)
	default:
	}
}

func (suite *EventLogTestSuite) TestCancelClosesChannel() {
	log := New(10)
	ch, cancel := log.Subscribe(1)

	cancel()
	// Double cancel must not panic.
	cancel()

	_, open := <-ch
	suite.False(open)

	// Appending after cancel must not panic or deliver.
	log.Append("after cancel")
}
