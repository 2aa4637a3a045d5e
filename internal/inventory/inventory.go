// Package inventory defines the control-plane collaborator rdswitch acts through.
package inventory

import (
	"context"

	"github.com/yairfalse/rdswitch/pkg/instance"
)

// Inventory lists database instances and issues lifecycle commands against them.
// Implementations are injected into the transitioner; nothing holds a global client.
type Inventory interface {
	// ListInstances returns every instance, in the order the backend reports them.
	// An error here aborts the whole run.
	ListInstances(ctx context.Context) ([]instance.Instance, error)

	// ListTags returns the tags of one instance, identified by its ARN.
	ListTags(ctx context.Context, arn string) ([]instance.Tag, error)

	// RequestStart asks the backend to start a stopped instance.
	RequestStart(ctx context.Context, id string) error

	// RequestStop asks the backend to stop an available instance.
	RequestStop(ctx context.Context, id string) error
}
