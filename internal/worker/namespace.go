package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/protobuf/types/known/durationpb"
)

// EnsureNamespace registers namespace unless the server already knows it.
// Workflow histories are kept for retention.
func EnsureNamespace(ctx context.Context, cli workflowservice.WorkflowServiceClient, namespace string, retention time.Duration) error {
	_, err := cli.DescribeNamespace(ctx, &workflowservice.DescribeNamespaceRequest{Namespace: namespace})
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NamespaceNotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("error describing namespace %q: %w", namespace, err)
	}

	_, err = cli.RegisterNamespace(ctx, &workflowservice.RegisterNamespaceRequest{
		Namespace:                        namespace,
		WorkflowExecutionRetentionPeriod: durationpb.New(retention),
	})
	// Another worker may have won the race
	var alreadyExists *serviceerror.NamespaceAlreadyExists
	if errors.As(err, &alreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error registering namespace %q: %w", namespace, err)
	}

	slog.InfoContext(ctx, "registered temporal namespace", "namespace", namespace)

	return nil
}
