package deployment

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
)

func (e *Executor) applyService(ctx context.Context, d *types.Deployment) error {
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{
		Name:      serviceName(d.ID),
		Namespace: namespaceFor(d),
	}}
	_, err := controllerutil.CreateOrUpdate(ctx, e.client, svc, func() error {
		svc.Labels = mergeLabels(svc.Labels, objectLabels(d))
		svc.Spec.Type = corev1.ServiceTypeClusterIP
		svc.Spec.Selector = selectorLabels(d.ID)
		ports := make([]corev1.ServicePort, 0, len(d.Spec.Ports))
		for _, port := range d.Spec.SortedPorts() {
			ports = append(ports, corev1.ServicePort{
				Name:       portName(port),
				Port:       int32(port),
				TargetPort: intstr.FromInt32(int32(port)),
				Protocol:   protocol(d.Spec.Ports[port]),
			})
		}
		svc.Spec.Ports = ports
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply service: %w", err)
	}
	return nil
}

// hostnames returns the public hosts for d: the bare <id>.<rootDomain> host and
// a verified custom domain bound to the first http port, then one regional
// host per http port
func (e *Executor) hostnames(d *types.Deployment) []hostRoute {
	ports := d.Spec.HTTPPorts()
	if len(ports) == 0 {
		return nil
	}
	region := d.Spec.Region
	if region == "" {
		region = e.opts.Region
	}

	hosts := make([]hostRoute, 0, len(ports)+2)
	hosts = append(hosts, hostRoute{
		host: fmt.Sprintf("%s.%s", d.ID, e.opts.RootDomain),
		port: ports[0],
	})
	if domain := d.Spec.RoutedDomain(); domain != "" {
		hosts = append(hosts, hostRoute{host: domain, port: ports[0]})
	}
	for _, port := range ports {
		hosts = append(hosts, hostRoute{
			host: fmt.Sprintf("%d-%s.%s.%s", port, d.ID, region, e.opts.RootDomain),
			port: port,
		})
	}
	return hosts
}

type hostRoute struct {
	host string
	port uint16
}

func (e *Executor) applyIngress(ctx context.Context, d *types.Deployment, tls, domainTLS bool) error {
	ing := &networkingv1.Ingress{ObjectMeta: metav1.ObjectMeta{
		Name:      ingressName(d.ID),
		Namespace: namespaceFor(d),
	}}
	hosts := e.hostnames(d)
	if len(hosts) == 0 {
		return e.deleteIgnoreMissing(ctx, ing)
	}

	_, err := controllerutil.CreateOrUpdate(ctx, e.client, ing, func() error {
		ing.Labels = mergeLabels(ing.Labels, objectLabels(d))
		ing.Spec.IngressClassName = ptr.To(e.opts.IngressClass)

		rules := make([]networkingv1.IngressRule, 0, len(hosts))
		for _, h := range hosts {
			rules = append(rules, networkingv1.IngressRule{
				Host: h.host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: ptr.To(networkingv1.PathTypePrefix),
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: serviceName(d.ID),
									Port: networkingv1.ServiceBackendPort{Number: int32(h.port)},
								},
							},
						}},
					},
				},
			})
		}
		ing.Spec.Rules = rules

		ing.Spec.TLS = nil
		if tls {
			ing.Spec.TLS = append(ing.Spec.TLS, networkingv1.IngressTLS{
				Hosts:      []string{hosts[0].host},
				SecretName: tlsSecretName(d.ID),
			})
		}
		if domainTLS {
			ing.Spec.TLS = append(ing.Spec.TLS, networkingv1.IngressTLS{
				Hosts:      []string{d.Spec.RoutedDomain()},
				SecretName: customTLSName(d.ID),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply ingress: %w", err)
	}
	return nil
}

// ensureCertificate makes sure tls-<id> holds a certificate that is not due
// for rotation. It returns false when no certificate authority is configured.
func (e *Executor) ensureCertificate(ctx context.Context, d *types.Deployment) (bool, error) {
	if e.ca == nil || len(d.Spec.HTTPPorts()) == 0 {
		return false, nil
	}
	err := e.ensureTLSSecret(ctx, d, tlsSecretName(d.ID), func() (*security.IssuedCertificate, error) {
		return e.ca.IssueDeploymentCertificate(d.ID, e.opts.RootDomain)
	})
	return err == nil, err
}

// ensureDomainCertificate keeps custom-tls-<id> in step with the verified
// custom domain of d, removing the secret once no domain is routed
func (e *Executor) ensureDomainCertificate(ctx context.Context, d *types.Deployment) (bool, error) {
	domain := d.Spec.RoutedDomain()
	if e.ca == nil || domain == "" || len(d.Spec.HTTPPorts()) == 0 {
		secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: customTLSName(d.ID), Namespace: namespaceFor(d)}}
		return false, e.deleteIgnoreMissing(ctx, secret)
	}
	err := e.ensureTLSSecret(ctx, d, customTLSName(d.ID), func() (*security.IssuedCertificate, error) {
		return e.ca.IssueDomainCertificate(d.ID, domain)
	}, domain)
	return err == nil, err
}

// ensureTLSSecret reissues the named secret unless it holds a certificate
// that is still reusable for hosts
func (e *Executor) ensureTLSSecret(ctx context.Context, d *types.Deployment, name string, issue func() (*security.IssuedCertificate, error), hosts ...string) error {
	secret := &corev1.Secret{}
	key := client.ObjectKey{Namespace: namespaceFor(d), Name: name}
	err := e.client.Get(ctx, key, secret)
	switch {
	case err == nil:
		if cert, perr := security.ParseCertPEM(secret.Data[corev1.TLSCertKey]); perr == nil && e.reusable(cert, hosts) {
			return nil
		}
	case !apierrors.IsNotFound(err):
		return fmt.Errorf("get tls secret %s: %w", name, err)
	}

	issued, err := issue()
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}
	e.logger.Info().
		Str("resource_id", d.ID.String()).
		Str("secret", name).
		Str("serial", issued.IssuerID).
		Time("not_after", issued.NotAfter).
		Msg("Issued deployment certificate")

	secret = &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: key.Name, Namespace: key.Namespace}}
	_, err = controllerutil.CreateOrUpdate(ctx, e.client, secret, func() error {
		secret.Labels = mergeLabels(secret.Labels, objectLabels(d))
		secret.Type = corev1.SecretTypeTLS
		secret.Data = map[string][]byte{
			corev1.TLSCertKey:       issued.CertPEM,
			corev1.TLSPrivateKeyKey: issued.KeyPEM,
			"ca.crt":                issued.CAPEM,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply tls secret %s: %w", name, err)
	}
	return nil
}

// reusable reports whether cert can keep serving: not due for rotation, issued
// by the current CA and not revoked, covering every name in hosts
func (e *Executor) reusable(cert *x509.Certificate, hosts []string) bool {
	return !security.CertNeedsRotation(cert, time.Now()) && e.ca.Trusts(cert) && covers(cert, hosts)
}

func covers(cert *x509.Certificate, hosts []string) bool {
	for _, h := range hosts {
		if cert.VerifyHostname(h) != nil {
			return false
		}
	}
	return true
}
