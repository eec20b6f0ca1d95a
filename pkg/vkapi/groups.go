package vkapi

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetGroupID 通过 groups.getById 查询当前 token 所属社区的 ID。
func GetGroupID(ctx context.Context, c Caller) (int64, error) {
	resp, err := c.Call(ctx, "groups.getById", Params{})
	if err != nil {
		return 0, fmt.Errorf("groups.getById: %w", err)
	}

	var groups []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Response, &groups); err != nil {
		return 0, fmt.Errorf("decode groups.getById: %w", err)
	}
	if len(groups) == 0 || groups[0].ID == 0 {
		return 0, fmt.Errorf("groups.getById returned no group")
	}
	return groups[0].ID, nil
}

// GetLongPollServer 通过 groups.getLongPollServer 获取长轮询参数。
func GetLongPollServer(ctx context.Context, c Caller, groupID int64) (*LongPollServer, error) {
	resp, err := c.Call(ctx, "groups.getLongPollServer", Params{"group_id": groupID})
	if err != nil {
		return nil, fmt.Errorf("groups.getLongPollServer: %w", err)
	}

	var srv LongPollServer
	if err := json.Unmarshal(resp.Response, &srv); err != nil {
		return nil, fmt.Errorf("decode groups.getLongPollServer: %w", err)
	}
	if srv.Server == "" || srv.Key == "" {
		return nil, fmt.Errorf("groups.getLongPollServer returned incomplete params")
	}
	return &srv, nil
}
