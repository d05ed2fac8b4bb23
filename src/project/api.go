package project

import (
	"context"
	"net/url"

	"github.com/orchestra-mcp/livecache/src/apiclient"
	"github.com/orchestra-mcp/livecache/src/types"
)

const (
	// Entity is the entity tag carried by project change events.
	Entity = "Project"
	// TagType groups project cache tags.
	TagType = "Projects"
	// ListTopic carries every project change.
	ListTopic = "/topic/projects"

	basePath = "/api/project"
)

// ItemTopic carries changes to one project.
func ItemTopic(id string) string {
	return ListTopic + "/" + id
}

// API calls the project REST endpoints.
type API struct {
	client *apiclient.Client
}

func NewAPI(client *apiclient.Client) *API {
	return &API{client: client}
}

// FindAll lists every project. A missing result yields an empty list.
func (a *API) FindAll(ctx context.Context) ([]Project, error) {
	var resp types.Response[[]Project]
	if err := a.client.Get(ctx, basePath+"/find-all", &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return []Project{}, nil
	}
	return resp.Result, nil
}

func (a *API) FindByID(ctx context.Context, id string) (Project, error) {
	var resp types.Response[Project]
	err := a.client.GetID(ctx, basePath, id, &resp)
	return resp.Result, err
}

func (a *API) Create(ctx context.Context, req CreateRequest) (Project, error) {
	var resp types.Response[Project]
	err := a.client.Post(ctx, basePath, req, &resp)
	return resp.Result, err
}

func (a *API) Update(ctx context.Context, id string, req UpdateRequest) (Project, error) {
	var resp types.Response[Project]
	err := a.client.PutID(ctx, basePath, id, req, &resp)
	return resp.Result, err
}

// Delete removes a project and returns the deleted id.
func (a *API) Delete(ctx context.Context, id string) (string, error) {
	var resp types.Response[deleteResult]
	err := a.client.Delete(ctx, basePath+"/"+url.PathEscape(id), &resp)
	return resp.Result.ID, err
}
