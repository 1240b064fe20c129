package mcp

import (
	"testing"
	"time"
)

func TestConfirmationTracker_IssueAndConsume(t *testing.T) {
	tracker := newConfirmationTracker(time.Hour)

	token := tracker.Issue("admin.bulk_delete.students")
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	if !tracker.Consume(token, "admin.bulk_delete.students") {
		t.Fatal("expected Consume to accept a freshly issued token")
	}
	// Tokens are single use.
	if tracker.Consume(token, "admin.bulk_delete.students") {
		t.Fatal("expected second Consume to be rejected")
	}
}

func TestConfirmationTracker_WrongAction(t *testing.T) {
	tracker := newConfirmationTracker(time.Hour)

	token := tracker.Issue("admin.bulk_delete.students")

	// A token confirms exactly one action.
	if tracker.Consume(token, "admin.bulk_delete.teachers") {
		t.Fatal("expected Consume to reject a token issued for another action")
	}
}

func TestConfirmationTracker_UnknownToken(t *testing.T) {
	tracker := newConfirmationTracker(time.Hour)
	if tracker.Consume("never-issued", "x") {
		t.Fatal("expected unknown token to be rejected")
	}
}

func TestConfirmationTracker_Expiry(t *testing.T) {
	// Use a very short window so tokens expire immediately.
	tracker := newConfirmationTracker(time.Millisecond)

	token := tracker.Issue("admin.csv_import.roster")
	time.Sleep(5 * time.Millisecond)

	if tracker.Consume(token, "admin.csv_import.roster") {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestConfirmationTracker_PurgeStale(t *testing.T) {
	tracker := newConfirmationTracker(time.Millisecond)

	for range 1000 {
		tracker.Issue("x")
	}
	time.Sleep(5 * time.Millisecond)
	tracker.Issue("x")

	tracker.mu.Lock()
	n := len(tracker.issued)
	tracker.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected stale tokens purged, %d remain", n)
	}
}

func TestConfirmationTracker_TokensAreUnique(t *testing.T) {
	tracker := newConfirmationTracker(time.Hour)
	seen := map[string]bool{}
	for range 50 {
		tok := tracker.Issue("x")
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}
