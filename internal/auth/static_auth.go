package auth

import "net/http"

// StaticAuthenticator accepts any well-formed pxk_ key and maps it to a
// single project. For local development without Postgres.
type StaticAuthenticator struct {
	ProjectID string
}

// NewStaticAuthenticator creates a StaticAuthenticator for the given project.
func NewStaticAuthenticator(projectID string) *StaticAuthenticator {
	return &StaticAuthenticator{ProjectID: projectID}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (*ProjectContext, error) {
	if _, err := ExtractBearerToken(r); err != nil {
		return nil, err
	}
	return &ProjectContext{
		ProjectID: a.ProjectID,
		Mode:      "enforce",
	}, nil
}
