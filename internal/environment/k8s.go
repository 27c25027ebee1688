package environment

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// environmentRequestResource and environmentResource are the CRDs the
// operator-mode requester watches and, respectively, deletes - the
// Environment Provider and its controller own the CRD definitions;
// this engine only ever reads/deletes instances of them.
var environmentRequestResource = schema.GroupVersionResource{
	Group:    "etos.eiffel-community.github.io",
	Version:  "v1alpha1",
	Resource: "environmentrequests",
}

var environmentResource = schema.GroupVersionResource{
	Group:    "etos.eiffel-community.github.io",
	Version:  "v1alpha1",
	Resource: "environments",
}

// K8sClient is the subset of a dynamic client this package needs,
// narrowed for testability without standing up a real apiserver.
type K8sClient interface {
	ListEnvironmentRequests(ctx context.Context, namespace, testrunID string) ([]EnvironmentRequestRecord, error)
	DeleteEnvironment(ctx context.Context, namespace, name string) error
}

// EnvironmentRequestRecord is the slice of an EnvironmentRequest
// object's status (and spec.id) this package reads.
type EnvironmentRequestRecord struct {
	Name         string
	SpecID       string // spec.id, the main suite id this request resolves (esr_parameters.py main_suite_ids)
	ReadyStatus  string // "True", "False", or "" if absent
	ReadyReason  string // e.g. "Done", "Failed"
	ReadyMessage string
}

// dynamicK8sClient is the real implementation, backed by
// k8s.io/client-go's dynamic client - used because the
// EnvironmentRequest/Environment CRDs have no generated typed clients
// vendored into this module.
type dynamicK8sClient struct {
	client dynamic.Interface
}

func NewK8sClient(client dynamic.Interface) K8sClient {
	return &dynamicK8sClient{client: client}
}

func (d *dynamicK8sClient) ListEnvironmentRequests(ctx context.Context, namespace, testrunID string) ([]EnvironmentRequestRecord, error) {
	list, err := d.client.Resource(environmentRequestResource).Namespace(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("testrun_id=%s", testrunID),
	})
	if err != nil {
		return nil, fmt.Errorf("listing environment requests: %w", err)
	}
	records := make([]EnvironmentRequestRecord, 0, len(list.Items))
	for _, item := range list.Items {
		records = append(records, recordFromUnstructured(item))
	}
	return records, nil
}

func recordFromUnstructured(obj unstructured.Unstructured) EnvironmentRequestRecord {
	record := EnvironmentRequestRecord{Name: obj.GetName()}
	if id, found, _ := unstructured.NestedString(obj.Object, "spec", "id"); found {
		record.SpecID = id
	}
	conditions, found, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if !found {
		return record
	}
	for _, raw := range conditions {
		cond, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if cond["type"] != "Ready" {
			continue
		}
		if s, ok := cond["status"].(string); ok {
			record.ReadyStatus = s
		}
		if r, ok := cond["reason"].(string); ok {
			record.ReadyReason = r
		}
		if m, ok := cond["message"].(string); ok {
			record.ReadyMessage = m
		}
	}
	return record
}

func (d *dynamicK8sClient) DeleteEnvironment(ctx context.Context, namespace, name string) error {
	err := d.client.Resource(environmentResource).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil {
		return fmt.Errorf("deleting environment %s: %w", name, err)
	}
	return nil
}
