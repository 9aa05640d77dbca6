package folio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnsupportedObjectType is returned for object type names outside the
// supported set.
var ErrUnsupportedObjectType = errors.New("unsupported object type")

// ObjectType identifies a kind of record accepted by a batch storage endpoint.
type ObjectType string

const (
	Items           ObjectType = "Items"
	Holdings        ObjectType = "Holdings"
	Instances       ObjectType = "Instances"
	ShadowInstances ObjectType = "ShadowInstances"
	Users           ObjectType = "Users"
)

type storage struct {
	batchPath  string
	lookupPath string
	payloadKey string
	// native upsert endpoints ignore the upsert query parameter
	native bool
}

var storages = map[ObjectType]storage{
	Items:           {batchPath: "/item-storage/batch/synchronous", lookupPath: "/item-storage/items", payloadKey: "items"},
	Holdings:        {batchPath: "/holdings-storage/batch/synchronous", lookupPath: "/holdings-storage/holdings", payloadKey: "holdingsRecords"},
	Instances:       {batchPath: "/instance-storage/batch/synchronous", lookupPath: "/instance-storage/instances", payloadKey: "instances"},
	ShadowInstances: {batchPath: "/instance-storage/batch/synchronous", lookupPath: "/instance-storage/instances", payloadKey: "instances"},
	Users:           {batchPath: "/user-import", lookupPath: "/users", payloadKey: "users", native: true},
}

// ObjectTypes returns the supported object types.
func ObjectTypes() []ObjectType {
	return []ObjectType{Items, Holdings, Instances, ShadowInstances, Users}
}

// ParseObjectType validates name against the supported object types.
func ParseObjectType(name string) (ObjectType, error) {
	ot := ObjectType(name)
	if _, ok := storages[ot]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedObjectType, name)
	}
	return ot, nil
}

// PayloadKey is the envelope key of records of this type.
func (ot ObjectType) PayloadKey() string {
	return storages[ot].payloadKey
}

// UpsertBatch posts records to the batch storage endpoint of ot. The endpoint
// is all-or-nothing: an error means no record of the batch was stored.
func (r *Remote) UpsertBatch(ctx context.Context, ot ObjectType, records []map[string]any, upsert bool) error {
	st, ok := storages[ot]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedObjectType, ot)
	}

	body := map[string]any{st.payloadKey: records}
	path := st.batchPath
	if st.native {
		body["totalRecords"] = len(records)
		body["deactivateMissingUsers"] = false
		body["updateOnlyPresentFields"] = false
	} else if upsert {
		path += "?upsert=true"
	}
	return r.client.Post(ctx, path, body, nil)
}

// FetchRecords looks up the current version of every id in ids.
func (r *Remote) FetchRecords(ctx context.Context, ot ObjectType, ids []string) ([]map[string]any, error) {
	st, ok := storages[ot]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedObjectType, ot)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("query", IDQuery(ids))
	query.Set("limit", strconv.Itoa(len(ids)))

	var resp map[string]any
	if err := r.client.Get(ctx, st.lookupPath+"?"+query.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch existing %s: %w", ot, err)
	}

	raw, _ := resp[st.payloadKey].([]any)
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// IDQuery builds a CQL query matching any of ids.
func IDQuery(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return "id==(" + strings.Join(quoted, " or ") + ")"
}

type usersResponse struct {
	Users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"users"`
}

// LookupUserID resolves the id of the user with the given username.
func (r *Remote) LookupUserID(ctx context.Context, username string) (string, error) {
	query := url.Values{}
	query.Set("query", "username=="+strconv.Quote(username))
	query.Set("limit", "1")

	var resp usersResponse
	if err := r.client.Get(ctx, "/users?"+query.Encode(), &resp); err != nil {
		return "", fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	if len(resp.Users) == 0 {
		return "", fmt.Errorf("user %q not found", username)
	}
	return resp.Users[0].ID, nil
}
