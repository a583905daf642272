// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package workflow

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	wfclientset "github.com/argoproj/argo-workflows/v3/pkg/client/clientset/versioned"
	wftypes "github.com/argoproj/argo-workflows/v3/pkg/client/clientset/versioned/typed/workflow/v1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	restclient "k8s.io/client-go/rest"
	"sigs.k8s.io/yaml"
)

//go:embed *.yaml
var workflowsFS embed.FS

// ArgoService runs one Argo Workflow per session/bisection run, labeled
// by run ID so Status can look it up again later.
type ArgoService struct {
	wfClient wftypes.WorkflowInterface
	template *v1alpha1.Workflow
}

func NewArgoService(namespace string) (*ArgoService, error) {
	kubeConfig, err := restclient.InClusterConfig()
	if err != nil {
		return nil, err
	}
	wfClient := wfclientset.NewForConfigOrDie(kubeConfig).ArgoprojV1alpha1().Workflows(namespace)
	templateData, err := workflowsFS.ReadFile("template.yaml")
	if err != nil {
		return nil, err
	}
	var wf v1alpha1.Workflow
	if err := yaml.Unmarshal(templateData, &wf); err != nil {
		return nil, err
	}
	return &ArgoService{wfClient: wfClient, template: &wf}, nil
}

func (w *ArgoService) Start(runID, targetName string) error {
	wf := w.template.DeepCopy()
	wf.ObjectMeta.Labels = map[string]string{"run-id": runID}
	for i, param := range wf.Spec.Arguments.Parameters {
		switch param.Name {
		case "run-id":
			wf.Spec.Arguments.Parameters[i].Value = v1alpha1.AnyStringPtr(runID)
		case "target-name":
			wf.Spec.Arguments.Parameters[i].Value = v1alpha1.AnyStringPtr(targetName)
		}
	}
	_, err := w.wfClient.Create(context.Background(), wf, metav1.CreateOptions{})
	return err
}

func (w *ArgoService) Status(runID string) (Status, error) {
	listOptions := metav1.ListOptions{LabelSelector: fmt.Sprintf("run-id=%s", runID)}
	workflows, err := w.wfClient.List(context.Background(), listOptions)
	if err != nil {
		return StatusNotFound, err
	}
	for _, wf := range workflows.Items {
		switch wf.Status.Phase {
		case v1alpha1.WorkflowRunning, v1alpha1.WorkflowPending:
			return StatusRunning, nil
		case v1alpha1.WorkflowSucceeded:
			return StatusFinished, nil
		case v1alpha1.WorkflowFailed, v1alpha1.WorkflowError:
			return StatusFailed, nil
		}
		return StatusFailed, nil
	}
	return StatusNotFound, nil
}

func (w *ArgoService) PollPeriod() time.Duration {
	return time.Minute
}
