package domain

import "testing"

func TestCollectionTransitionAllowed(t *testing.T) {
	cases := []struct {
		name    string
		current CollectionStatus
		next    CollectionStatus
		want    bool
	}{
		{"initiated to processing", CollectionInitiated, CollectionProcessing, true},
		{"initiated to completed", CollectionInitiated, CollectionCompleted, true},
		{"initiated to failed", CollectionInitiated, CollectionFailed, true},
		{"processing to completed", CollectionProcessing, CollectionCompleted, true},
		{"processing to failed", CollectionProcessing, CollectionFailed, true},
		{"processing to initiated is backward", CollectionProcessing, CollectionInitiated, false},
		{"repeat of same status", CollectionProcessing, CollectionProcessing, false},
		{"completed is terminal", CollectionCompleted, CollectionFailed, false},
		{"failed is terminal", CollectionFailed, CollectionCompleted, false},
		{"unknown current", CollectionStatus("WEIRD"), CollectionCompleted, false},
		{"unknown next", CollectionInitiated, CollectionStatus("WEIRD"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CollectionTransitionAllowed(tc.current, tc.next); got != tc.want {
				t.Errorf("CollectionTransitionAllowed(%s, %s) = %v, want %v", tc.current, tc.next, got, tc.want)
			}
		})
	}
}

func TestPayoutTransitionAllowed(t *testing.T) {
	cases := []struct {
		name    string
		current PayoutStatus
		next    PayoutStatus
		want    bool
	}{
		{"pending to processing", PayoutPending, PayoutProcessing, true},
		{"pending to completed", PayoutPending, PayoutCompleted, true},
		{"processing to completed", PayoutProcessing, PayoutCompleted, true},
		{"processing to failed", PayoutProcessing, PayoutFailed, true},
		{"processing to pending is backward", PayoutProcessing, PayoutPending, false},
		{"completed is terminal", PayoutCompleted, PayoutFailed, false},
		{"failed is terminal", PayoutFailed, PayoutCompleted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PayoutTransitionAllowed(tc.current, tc.next); got != tc.want {
				t.Errorf("PayoutTransitionAllowed(%s, %s) = %v, want %v", tc.current, tc.next, got, tc.want)
			}
		})
	}
}

func TestDeriveOverall(t *testing.T) {
	cases := []struct {
		name       string
		current    OverallStatus
		collection CollectionStatus
		payout     PayoutStatus
		want       OverallStatus
	}{
		{"both completed is success", OverallPending, CollectionCompleted, PayoutCompleted, OverallSuccess},
		{"collection failed", OverallPending, CollectionFailed, PayoutPending, OverallFailed},
		{"payout failed", OverallPending, CollectionCompleted, PayoutFailed, OverallFailed},
		{"collected awaiting payout", OverallCreated, CollectionCompleted, PayoutPending, OverallPending},
		{"collection processing", OverallCreated, CollectionProcessing, PayoutPending, OverallPending},
		{"initiated keeps current", OverallCreated, CollectionInitiated, PayoutPending, OverallCreated},
		{"payout processing keeps current", OverallPending, CollectionCompleted, PayoutProcessing, OverallPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveOverall(tc.current, tc.collection, tc.payout); got != tc.want {
				t.Errorf("DeriveOverall(%s, %s, %s) = %s, want %s", tc.current, tc.collection, tc.payout, got, tc.want)
			}
		})
	}
}

// holdCurrent marks the leg pairs whose derivation leaves the overall
// status unchanged, whatever it currently is.
const holdCurrent = OverallStatus("")

// expectedOverall pins the derivation for every one of the sixteen leg
// combinations. Pairs absent from the map pass the current status through.
var expectedOverall = map[CollectionStatus]map[PayoutStatus]OverallStatus{
	CollectionInitiated: {
		PayoutPending:    holdCurrent,
		PayoutProcessing: holdCurrent,
		PayoutCompleted:  holdCurrent,
		PayoutFailed:     OverallFailed,
	},
	CollectionProcessing: {
		PayoutPending:    OverallPending,
		PayoutProcessing: OverallPending,
		PayoutCompleted:  OverallPending,
		PayoutFailed:     OverallFailed,
	},
	CollectionCompleted: {
		PayoutPending:    OverallPending,
		PayoutProcessing: holdCurrent,
		PayoutCompleted:  OverallSuccess,
		PayoutFailed:     OverallFailed,
	},
	CollectionFailed: {
		PayoutPending:    OverallFailed,
		PayoutProcessing: OverallFailed,
		PayoutCompleted:  OverallFailed,
		PayoutFailed:     OverallFailed,
	},
}

// Every leg combination is exercised against every current overall status, so
// a change to the derivation rules cannot slip past a handpicked table.
func TestDeriveOverallAllLegCombinations(t *testing.T) {
	collections := []CollectionStatus{CollectionInitiated, CollectionProcessing, CollectionCompleted, CollectionFailed}
	payouts := []PayoutStatus{PayoutPending, PayoutProcessing, PayoutCompleted, PayoutFailed}
	currents := []OverallStatus{OverallCreated, OverallPending, OverallSuccess, OverallFailed}

	for _, c := range collections {
		for _, p := range payouts {
			want, ok := expectedOverall[c][p]
			if !ok {
				t.Fatalf("no expectation for legs (%s, %s)", c, p)
			}
			for _, cur := range currents {
				expect := want
				if expect == holdCurrent {
					expect = cur
				}
				if got := DeriveOverall(cur, c, p); got != expect {
					t.Errorf("DeriveOverall(%s, %s, %s) = %s, want %s", cur, c, p, got, expect)
				}
			}
		}
	}
}

func TestStage(t *testing.T) {
	cases := []struct {
		collection CollectionStatus
		payout     PayoutStatus
		want       string
	}{
		{CollectionInitiated, PayoutPending, "collecting"},
		{CollectionProcessing, PayoutPending, "collecting"},
		{CollectionCompleted, PayoutPending, "collection_success"},
		{CollectionCompleted, PayoutProcessing, "payout_processing"},
		{CollectionCompleted, PayoutCompleted, "completed"},
		{CollectionCompleted, PayoutFailed, "payout_failed"},
		{CollectionFailed, PayoutPending, "collection_failed"},
	}
	for _, tc := range cases {
		if got := Stage(tc.collection, tc.payout); got != tc.want {
			t.Errorf("Stage(%s, %s) = %q, want %q", tc.collection, tc.payout, got, tc.want)
		}
	}
}

func TestNormalizeCollectionStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want CollectionStatus
	}{
		{"SUCCESS", CollectionCompleted},
		{"successful", CollectionCompleted},
		{"Paid", CollectionCompleted},
		{"settled", CollectionCompleted},
		{"FAILED", CollectionFailed},
		{"rejected", CollectionFailed},
		{"declined", CollectionFailed},
		{"expired", CollectionFailed},
		{"pending", CollectionProcessing},
		{"  processing  ", CollectionProcessing},
		{"in_process", CollectionProcessing},
		{"gibberish", CollectionInitiated},
		{"", CollectionInitiated},
	}
	for _, tc := range cases {
		if got := NormalizeCollectionStatus(tc.raw); got != tc.want {
			t.Errorf("NormalizeCollectionStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizePayoutStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want PayoutStatus
	}{
		{"success", PayoutCompleted},
		{"FAILURE", PayoutFailed},
		{"initiated", PayoutProcessing},
		{"unknown-word", PayoutPending},
	}
	for _, tc := range cases {
		if got := NormalizePayoutStatus(tc.raw); got != tc.want {
			t.Errorf("NormalizePayoutStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}
