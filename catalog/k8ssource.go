package catalog

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ConfigMapSource reads pattern files out of a single Kubernetes
// ConfigMap's Data map, keyed by file name, for clusters that manage their
// Grok catalog declaratively rather than baking it into a container image.
// Client bootstrap follows the usual in-cluster-or-kubeconfig pattern: in
// cluster config when no kubeconfig path is given, otherwise a kubeconfig
// file.
type ConfigMapSource struct {
	clientset *kubernetes.Clientset
	namespace string
	name      string
}

// NewConfigMapSource builds a ConfigMapSource for the ConfigMap
// namespace/name. kubeconfig may be empty to use in-cluster config.
func NewConfigMapSource(kubeconfig, namespace, name string) (*ConfigMapSource, error) {
	var restConfig *rest.Config
	var err error
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: building kubernetes client config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("catalog: building kubernetes clientset: %w", err)
	}

	return &ConfigMapSource{clientset: clientset, namespace: namespace, name: name}, nil
}

func (s *ConfigMapSource) configMap(ctx context.Context) (*corev1.ConfigMap, error) {
	cm, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching configmap %s/%s: %w", s.namespace, s.name, err)
	}
	return cm, nil
}

// Open returns the value under key name in the ConfigMap's Data map.
func (s *ConfigMapSource) Open(name string) (io.ReadCloser, error) {
	cm, err := s.configMap(context.Background())
	if err != nil {
		return nil, err
	}
	body, ok := cm.Data[name]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// List returns every key currently present in the ConfigMap's Data map.
func (s *ConfigMapSource) List() ([]string, error) {
	cm, err := s.configMap(context.Background())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cm.Data))
	for k := range cm.Data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}
