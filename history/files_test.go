package history_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/meshtalk/histdb/history"
	"github.com/meshtalk/histdb/internal/testutil"
	"github.com/meshtalk/histdb/rawdb"
)

// runTransferScenario stores one file-transfer message and reports its
// outcome, either after the database rows exist (finishEarly=false) or
// before any row has been created (finishEarly=true). The early case holds
// the queue worker on a gate so the outcome provably arrives first.
func runTransferScenario(t *testing.T, finishEarly bool) history.Message {
	t.Helper()
	h, db := testutil.NewTestHistory(t)

	const session = "restart-token-1"
	hash := []byte{0xde, 0xad, 0xbe, 0xef}
	at := time.UnixMilli(50_000)

	var gate chan struct{}
	if finishEarly {
		gate = make(chan struct{})
		err := db.ExecNow(rawdb.Query{SQL: "CREATE TABLE gate (id INTEGER PRIMARY KEY);"})
		testutil.MustNoErr(t, err, "create gate table")
		db.ExecLater(rawdb.Query{
			SQL:   "INSERT INTO gate DEFAULT VALUES;",
			RowID: func(int64) { <-gate },
		})
	}

	err := h.AddFileMessage(keyB, session, "photo.png", "/inbox/photo.png", 42, self, at, "me")
	testutil.MustNoErr(t, err, "AddFileMessage")

	if finishEarly {
		// The worker is still parked on the gate, so neither the message
		// row nor the file row exists yet when the outcome lands.
		testutil.MustNoErr(t, h.SetFileFinished(session, true, "/inbox/photo.png", hash), "SetFileFinished")
		close(gate)
		db.Sync()
	} else {
		db.Sync()
		testutil.MustNoErr(t, h.SetFileFinished(session, true, "/inbox/photo.png", hash), "SetFileFinished")
	}

	got, err := h.FetchRecent(keyB, 10)
	testutil.MustNoErr(t, err, "FetchRecent")
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	return got[0]
}

func TestFileTransfer_FinishedAfterRowsExist(t *testing.T) {
	msg := runTransferScenario(t, false)

	if msg.Content != "" {
		t.Errorf("file message has content %q, want empty", msg.Content)
	}
	if msg.File == nil {
		t.Fatal("message has no file transfer attached")
	}

	want := &history.FileTransfer{
		ID:        msg.File.ID,
		RestartID: []byte("restart-token-1"),
		Path:      "/inbox/photo.png",
		Name:      "photo.png",
		Hash:      []byte{0xde, 0xad, 0xbe, 0xef},
		Size:      42,
		Direction: history.FileSending,
		State:     history.FileFinished,
	}
	if diff := cmp.Diff(want, msg.File); diff != "" {
		t.Errorf("file transfer mismatch (-want +got):\n%s", diff)
	}
}

func TestFileTransfer_OutcomeBeforeRowsExist(t *testing.T) {
	late := runTransferScenario(t, false)
	early := runTransferScenario(t, true)

	// Both event orders must converge on the same stored record.
	if diff := cmp.Diff(late.File, early.File); diff != "" {
		t.Errorf("early-finish transfer diverges from late finish (-late +early):\n%s", diff)
	}
}

func TestFileTransfer_DirectionInferredFromSender(t *testing.T) {
	h, _ := testutil.NewTestHistory(t)

	// Sender equal to the chat partner means the file was received.
	err := h.AddFileMessage(keyA, "sess-in", "in.bin", "/in.bin", 1, keyA, time.Now(), "Alice")
	testutil.MustNoErr(t, err, "incoming file")
	err = h.AddFileMessage(keyA, "sess-out", "out.bin", "/out.bin", 1, self, time.Now(), "me")
	testutil.MustNoErr(t, err, "outgoing file")

	got, err := h.FetchRecent(keyA, 10)
	testutil.MustNoErr(t, err, "FetchRecent")
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].File == nil || got[0].File.Direction != history.FileReceiving {
		t.Errorf("file from chat partner should be FileReceiving")
	}
	if got[1].File == nil || got[1].File.Direction != history.FileSending {
		t.Errorf("file from local user should be FileSending")
	}
}

func TestFileTransfer_FailureKeepsCanceledState(t *testing.T) {
	h, _ := testutil.NewTestHistory(t)

	err := h.AddFileMessage(keyA, "sess-fail", "big.iso", "/big.iso", 9000, keyA, time.Now(), "Alice")
	testutil.MustNoErr(t, err, "AddFileMessage")
	testutil.MustNoErr(t, h.SetFileFinished("sess-fail", false, "", nil), "SetFileFinished")

	got, err := h.FetchRecent(keyA, 1)
	testutil.MustNoErr(t, err, "FetchRecent")
	if got[0].File == nil {
		t.Fatal("message has no file transfer attached")
	}
	if got[0].File.State != history.FileCanceled {
		t.Errorf("failed transfer state = %d, want FileCanceled", got[0].File.State)
	}
	// A failure with no final path keeps the original path on record.
	if got[0].File.Path != "/big.iso" {
		t.Errorf("failed transfer path = %q, want original", got[0].File.Path)
	}
}

func TestSetFileFinished_UnknownSessionIsNoOp(t *testing.T) {
	h, _ := testutil.NewTestHistory(t)
	testutil.MustNoErr(t, h.SetFileFinished("never-seen", true, "/x", nil), "SetFileFinished")
}

func TestSetFileFinished_AppliedExactlyOnce(t *testing.T) {
	h, db := testutil.NewTestHistory(t)

	err := h.AddFileMessage(keyA, "sess-once", "a.txt", "/a.txt", 3, keyA, time.Now(), "Alice")
	testutil.MustNoErr(t, err, "AddFileMessage")
	db.Sync()

	testutil.MustNoErr(t, h.SetFileFinished("sess-once", true, "/a.txt", []byte{1}), "first finish")
	// The link entry is gone after the first outcome, so a duplicate report
	// cannot rewrite the row.
	testutil.MustNoErr(t, h.SetFileFinished("sess-once", false, "/elsewhere", nil), "duplicate finish")

	got, err := h.FetchRecent(keyA, 1)
	testutil.MustNoErr(t, err, "FetchRecent")
	if got[0].File.State != history.FileFinished {
		t.Errorf("state = %d, want FileFinished from the first report", got[0].File.State)
	}
	if got[0].File.Path != "/a.txt" {
		t.Errorf("path = %q, want %q", got[0].File.Path, "/a.txt")
	}
}
