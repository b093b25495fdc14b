package pubsub

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, kind, name, want string
	}{
		{"proj", "topics", "settlements", "projects/proj/topics/settlements"},
		{"proj", "subscriptions", " ledger ", "projects/proj/subscriptions/ledger"},
		{"proj", "topics", "projects/other/topics/x", "projects/other/topics/x"},
		{"", "topics", "settlements", ""},
		{"proj", "topics", "", ""},
	}
	for _, tc := range cases {
		if got := resourceName(tc.project, tc.kind, tc.name); got != tc.want {
			t.Fatalf("resourceName(%q,%q,%q) = %q, want %q", tc.project, tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestClassifyPublishError(t *testing.T) {
	var nonRetry registry.NonRetryableError
	if err := classifyPublishError(status.Error(codes.NotFound, "no topic")); !errors.As(err, &nonRetry) {
		t.Fatalf("missing topic should not be retried, got %T", err)
	}
	if err := classifyPublishError(status.Error(codes.Unavailable, "flaky")); errors.As(err, &nonRetry) {
		t.Fatalf("unavailable should be retried")
	}
}
