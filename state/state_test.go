package state

import (
	"os"
	"testing"

	"github.com/Shimmur/streamgen/rng"
	. "github.com/smartystreets/goconvey/convey"
)

func Test_EndToEnd(t *testing.T) {
	Convey("Testing end to end", t, func() {
		key := "jump"

		stateFile, err := os.CreateTemp("", "generatorState*")
		So(err, ShouldBeNil)
		Reset(func() { _ = os.Remove(stateFile.Name()) })

		Convey("Store can write and reload from disk", func() {
			first := &Checkpoint{State: rng.State{1, 2, 3, 4}, Substreams: 1}
			second := &Checkpoint{State: rng.State{1 << 63, 5, 6, 7}, Substreams: 2}

			origStore := NewStore(5, stateFile.Name())
			origStore.Add(key, first)
			origStore.Add(key, second)

			err = origStore.Persist()
			So(err, ShouldBeNil)

			newStore := NewStore(5, stateFile.Name())
			err = newStore.Load()
			So(err, ShouldBeNil)

			So(newStore.Get(key), ShouldResemble, origStore.Get(key))
			So(newStore.Get(key).State[0], ShouldEqual, uint64(1<<63))
		})

		Convey("Keys that are added are returned", func() {
			store := NewStore(5, stateFile.Name())
			checkpoint := &Checkpoint{State: rng.State{1, 2, 3, 4}}

			store.Add("a generator", checkpoint)

			So(store.Get("a generator"), ShouldEqual, checkpoint)
		})

		Convey("Keys that are deleted are not returned", func() {
			store := NewStore(5, stateFile.Name())
			checkpoint := &Checkpoint{State: rng.State{1, 2, 3, 4}}

			store.Add("a generator", checkpoint)
			store.Del("a generator")

			So(store.Get("a generator"), ShouldBeNil)
		})
	})
}

func Test_Load(t *testing.T) {
	Convey("Load()", t, func() {
		Convey("errors when the file can't be read", func() {
			store := NewStore(1, "/does/not/exist")

			err := store.Load()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to load state from /does/not/exist")
		})

		Convey("errors when the file can't be unmarshaled", func() {
			stateFile, err := os.CreateTemp("", "generatorState*")
			So(err, ShouldBeNil)
			Reset(func() { _ = os.Remove(stateFile.Name()) })

			err = os.WriteFile(stateFile.Name(), []byte("not json"), 0644)
			So(err, ShouldBeNil)

			store := NewStore(1, stateFile.Name())

			err = store.Load()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to unmarshal state")
		})
	})
}

func Test_Persist(t *testing.T) {
	Convey("Persist()", t, func() {
		Convey("errors when the file can't be written", func() {
			store := NewStore(1, "/does/not/exist")

			err := store.Persist()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to persist to /does/not/exist")
		})
	})
}
