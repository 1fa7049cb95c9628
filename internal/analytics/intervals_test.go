package analytics

import (
	"reflect"
	"testing"
	"time"

	"github.com/tminus/tminus/internal/types"
)

func iv(t *testing.T, start, end string, accounts ...string) Interval {
	t.Helper()
	return Interval{Start: mustTime(t, start), End: mustTime(t, end), Accounts: accounts}
}

func TestMergeOverlapAndAdjacency(t *testing.T) {
	merged := Merge([]Interval{
		iv(t, "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z", "acct_a"),
		iv(t, "2026-02-16T10:30:00Z", "2026-02-16T12:00:00Z", "acct_b"),
		// Adjacent: counts as overlap.
		iv(t, "2026-02-16T12:00:00Z", "2026-02-16T13:00:00Z", "acct_a"),
		// Disjoint.
		iv(t, "2026-02-16T15:00:00Z", "2026-02-16T16:00:00Z", "acct_c"),
	})

	if len(merged) != 2 {
		t.Fatalf("Expected 2 merged intervals, got %d: %+v", len(merged), merged)
	}
	first := merged[0]
	if !first.Start.Equal(mustTime(t, "2026-02-16T10:00:00Z")) || !first.End.Equal(mustTime(t, "2026-02-16T13:00:00Z")) {
		t.Errorf("First interval = [%v, %v)", first.Start, first.End)
	}
	if !reflect.DeepEqual(first.Accounts, []string{"acct_a", "acct_b"}) {
		t.Errorf("Accounts not unioned: %v", first.Accounts)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	input := []Interval{
		iv(t, "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z", "acct_a"),
		iv(t, "2026-02-16T10:15:00Z", "2026-02-16T10:45:00Z", "acct_b"),
		iv(t, "2026-02-16T14:00:00Z", "2026-02-16T15:00:00Z", "acct_a"),
	}
	once := Merge(input)
	twice := Merge(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge(merge(x)) != merge(x):\n once: %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	input := []Interval{
		iv(t, "2026-02-16T12:00:00Z", "2026-02-16T13:00:00Z"),
		iv(t, "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z"),
	}
	Merge(input)
	if !input[0].Start.Equal(mustTime(t, "2026-02-16T12:00:00Z")) {
		t.Error("Merge reordered its input slice")
	}
}

func TestGaps(t *testing.T) {
	busy := Merge([]Interval{
		iv(t, "2026-02-16T10:00:00Z", "2026-02-16T11:00:00Z"),
		iv(t, "2026-02-16T14:00:00Z", "2026-02-16T15:00:00Z"),
	})
	gaps := Gaps(busy, mustTime(t, "2026-02-16T09:00:00Z"), mustTime(t, "2026-02-16T17:00:00Z"))

	want := []Interval{
		{Start: mustTime(t, "2026-02-16T09:00:00Z"), End: mustTime(t, "2026-02-16T10:00:00Z")},
		{Start: mustTime(t, "2026-02-16T11:00:00Z"), End: mustTime(t, "2026-02-16T14:00:00Z")},
		{Start: mustTime(t, "2026-02-16T15:00:00Z"), End: mustTime(t, "2026-02-16T17:00:00Z")},
	}
	if !reflect.DeepEqual(gaps, want) {
		t.Errorf("Gaps = %+v, want %+v", gaps, want)
	}
}

func TestGapsFullyBusy(t *testing.T) {
	busy := []Interval{iv(t, "2026-02-16T00:00:00Z", "2026-02-17T00:00:00Z")}
	gaps := Gaps(busy, mustTime(t, "2026-02-16T09:00:00Z"), mustTime(t, "2026-02-16T17:00:00Z"))
	if len(gaps) != 0 {
		t.Errorf("Expected no gaps, got %+v", gaps)
	}
}

func TestSubtractSplitsInterval(t *testing.T) {
	busy := []Interval{iv(t, "2026-02-16T09:00:00Z", "2026-02-16T17:00:00Z")}
	out := Subtract(busy, iv(t, "2026-02-16T12:00:00Z", "2026-02-16T13:00:00Z"))

	if len(out) != 2 {
		t.Fatalf("Expected split into 2, got %+v", out)
	}
	if !out[0].End.Equal(mustTime(t, "2026-02-16T12:00:00Z")) || !out[1].Start.Equal(mustTime(t, "2026-02-16T13:00:00Z")) {
		t.Errorf("Subtract boundaries wrong: %+v", out)
	}
}

func TestClip(t *testing.T) {
	out := Clip(
		[]Interval{
			iv(t, "2026-02-15T00:00:00Z", "2026-02-16T12:00:00Z"),
			iv(t, "2026-02-18T00:00:00Z", "2026-02-19T00:00:00Z"), // outside
		},
		mustTime(t, "2026-02-16T00:00:00Z"), mustTime(t, "2026-02-17T00:00:00Z"))

	if len(out) != 1 {
		t.Fatalf("Expected 1 clipped interval, got %+v", out)
	}
	if !out[0].Start.Equal(mustTime(t, "2026-02-16T00:00:00Z")) {
		t.Errorf("Start not clipped: %v", out[0].Start)
	}
}

// A date-only event and a midnight-UTC datetime event must occupy the same
// instant in merge and gap computation.
func TestDateOnlyAndDatetimeCompareCoherently(t *testing.T) {
	dateOnly := &types.CanonicalEvent{
		OriginAccountID: "acct_a",
		Start:           "2026-02-16",
		End:             "2026-02-17",
		AllDay:          true,
	}
	datetime := &types.CanonicalEvent{
		OriginAccountID: "acct_b",
		Start:           "2026-02-16T00:00:00Z",
		End:             "2026-02-17T00:00:00Z",
	}
	a, ok := eventInterval(dateOnly)
	if !ok {
		t.Fatal("date-only event did not convert")
	}
	b, ok := eventInterval(datetime)
	if !ok {
		t.Fatal("datetime event did not convert")
	}
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		t.Fatalf("Date-only [%v, %v) != datetime [%v, %v)", a.Start, a.End, b.Start, b.End)
	}

	merged := Merge([]Interval{a, b})
	if len(merged) != 1 {
		t.Fatalf("Equal-instant intervals did not merge: %+v", merged)
	}
	gaps := Gaps(merged, mustTime(t, "2026-02-16T00:00:00Z"), mustTime(t, "2026-02-17T00:00:00Z"))
	if len(gaps) != 0 {
		t.Errorf("Expected no gaps, got %+v", gaps)
	}
}

func TestMergeLargeInputStaysSorted(t *testing.T) {
	base := mustTime(t, "2026-02-16T00:00:00Z")
	var input []Interval
	for i := 500; i > 0; i-- {
		start := base.Add(time.Duration(i) * time.Hour)
		input = append(input, Interval{Start: start, End: start.Add(30 * time.Minute)})
	}
	merged := Merge(input)
	if len(merged) != 500 {
		t.Fatalf("Expected 500 disjoint intervals, got %d", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if !merged[i].Start.After(merged[i-1].End) {
			t.Fatalf("Output not sorted/disjoint at %d", i)
		}
	}
}
