package vendors

import (
	"sort"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/vendors/bitbucket"
	"github.com/identity-sync/saas-connector/internal/vendors/gitlab"
	"github.com/identity-sync/saas-connector/internal/vendors/harvest"
	"github.com/identity-sync/saas-connector/internal/vendors/hubspot"
	"github.com/identity-sync/saas-connector/internal/vendors/monday"
)

// Registry holds the client for every supported vendor.
type Registry struct {
	clients map[domain.Vendor]connector.VendorClient
}

func NewRegistry(cfg *config.Config) *Registry {

	registry := &Registry{
		clients: make(map[domain.Vendor]connector.VendorClient),
	}

	registry.add(gitlab.NewClient(cfg))
	registry.add(bitbucket.NewClient(cfg))
	registry.add(hubspot.NewClient(cfg))
	registry.add(harvest.NewClient(cfg))
	registry.add(monday.NewClient(cfg))

	return registry
}

func (r *Registry) add(client connector.VendorClient) {
	r.clients[client.Vendor()] = client
}

func (r *Registry) Resolve(vendor domain.Vendor) (connector.VendorClient, error) {
	client, ok := r.clients[vendor]
	if !ok {
		return nil, connector.ErrUnknownVendor
	}
	return client, nil
}

func (r *Registry) Vendors() []domain.Vendor {
	vendors := make([]domain.Vendor, 0, len(r.clients))
	for vendor := range r.clients {
		vendors = append(vendors, vendor)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })
	return vendors
}
