package opencti

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/whttp"
	"github.com/tidwall/gjson"
)

const pageSize = 500

const entitiesQuery = `query CacheEntities($types: [String], $first: Int, $after: ID) {
  stixDomainObjects(types: $types, first: $first, after: $after) {
    edges {
      node {
        id
        entity_type
        representative { main }
        ... on AttackPattern { name aliases x_mitre_id }
        ... on Campaign { name aliases }
        ... on Incident { name aliases }
        ... on IntrusionSet { name aliases }
        ... on Malware { name aliases }
        ... on ThreatActor { name aliases }
        ... on Tool { name aliases }
        ... on Vulnerability { name x_opencti_aliases }
        ... on Identity { name x_opencti_aliases }
        ... on Location { name x_opencti_aliases }
        ... on Event { name aliases }
      }
    }
    pageInfo { endCursor hasNextPage }
  }
}`

const connectionQuery = `query Connection {
  me { name user_email }
  about { version }
  settings { platform_title platform_enterprise_edition { license_validated } }
}`

// Client talks to an OpenCTI GraphQL endpoint.
type Client struct {
	inst platforms.Instance
	http *whttp.Client
}

// NewClient builds a client for inst using the given HTTP client.
func NewClient(inst platforms.Instance, httpClient *whttp.Client) *Client {
	return &Client{inst: inst, http: httpClient}
}

// Factory returns a platforms.Factory building clients from httpCfg.
func Factory(httpCfg whttp.Config) platforms.Factory {
	return func(inst platforms.Instance) (platforms.Client, error) {
		hc, err := whttp.NewClient(httpCfg)
		if err != nil {
			return nil, err
		}
		return NewClient(inst, hc), nil
	}
}

func (c *Client) Instance() platforms.Instance { return c.inst }

func (c *Client) endpoint() string {
	return strings.TrimRight(c.inst.URL, "/") + "/graphql"
}

func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}) (gjson.Result, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return gjson.Result{}, err
	}

	res, err := c.http.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  "POST",
		URL:     c.endpoint(),
		Headers: []whttp.WHTTPHeader{whttp.Bearer(c.inst.Token)},
		Body:    body,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	if res.StatusCode != 200 {
		return gjson.Result{}, &whttp.StatusError{StatusCode: res.StatusCode, URL: c.endpoint()}
	}
	if !gjson.Valid(res.BodyString) {
		return gjson.Result{}, fmt.Errorf("invalid JSON from %s", c.endpoint())
	}

	parsed := gjson.Parse(res.BodyString)
	if errs := parsed.Get("errors"); errs.Exists() && len(errs.Array()) > 0 {
		return gjson.Result{}, fmt.Errorf("graphql error: %s", errs.Array()[0].Get("message").String())
	}
	return parsed.Get("data"), nil
}

// FetchEntitiesOfType walks every page of stixDomainObjects for entityType.
func (c *Client) FetchEntitiesOfType(ctx context.Context, entityType string) ([]platforms.Entity, error) {
	var entities []platforms.Entity
	var after interface{}

	for {
		data, err := c.query(ctx, entitiesQuery, map[string]interface{}{
			"types": []string{entityType},
			"first": pageSize,
			"after": after,
		})
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", entityType, err)
		}

		conn := data.Get("stixDomainObjects")
		conn.Get("edges").ForEach(func(_, edge gjson.Result) bool {
			if e, ok := parseNode(edge.Get("node"), entityType); ok {
				entities = append(entities, e)
			}
			return true
		})

		if !conn.Get("pageInfo.hasNextPage").Bool() {
			break
		}
		cursor := conn.Get("pageInfo.endCursor").String()
		if cursor == "" {
			break
		}
		after = cursor
	}
	return entities, nil
}

func parseNode(node gjson.Result, requestedType string) (platforms.Entity, bool) {
	id := node.Get("id").String()
	name := node.Get("name").String()
	if name == "" {
		name = node.Get("representative.main").String()
	}
	if id == "" || name == "" {
		return platforms.Entity{}, false
	}

	var aliases []string
	for _, field := range []string{"aliases", "x_opencti_aliases"} {
		node.Get(field).ForEach(func(_, v gjson.Result) bool {
			aliases = append(aliases, v.String())
			return true
		})
	}

	entityType := node.Get("entity_type").String()
	if entityType == "" {
		entityType = requestedType
	}

	return platforms.Entity{
		ID:         id,
		Name:       name,
		Aliases:    aliases,
		ExternalID: node.Get("x_mitre_id").String(),
		Type:       entityType,
	}, true
}

// TestConnection checks credentials and reads platform metadata.
func (c *Client) TestConnection(ctx context.Context) (platforms.ConnectionInfo, error) {
	data, err := c.query(ctx, connectionQuery, nil)
	if err != nil {
		return platforms.ConnectionInfo{Success: false}, err
	}
	user := data.Get("me.name").String()
	if user == "" {
		user = data.Get("me.user_email").String()
	}
	return platforms.ConnectionInfo{
		Success:           true,
		User:              user,
		PlatformName:      data.Get("settings.platform_title").String(),
		Version:           data.Get("about.version").String(),
		EnterpriseEdition: data.Get("settings.platform_enterprise_edition.license_validated").Bool(),
	}, nil
}
