package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/Malilyqueen/max-crm-sub003/internal/crm"
	"github.com/Malilyqueen/max-crm-sub003/internal/execlog"
)

// DefaultActions builds the standard action set over the given CRM client.
// Codes here must match the capability matrix grants.
func DefaultActions(client crm.Client) []Action {
	return []Action{
		RelanceJ3(client),
		BulkTag(client),
		SendFollowUp(client),
		CreateCustomField(client),
		BulkDeleteTags(client),
	}
}

// RelanceJ3 sends the day-3 follow-up to every lead inactive for three days.
func RelanceJ3(client crm.Client) Action {
	return Action{
		Code:        "relance-j3",
		Type:        "bulk_followup",
		Area:        "leads",
		Description: "send the J+3 follow-up to inactive leads",
		Run: func(ctx context.Context, tenant string, params map[string]any) (RunResult, error) {
			leads, err := client.ListLeads(ctx, tenant, crm.LeadFilter{InactiveDays: 3})
			if err != nil {
				return RunResult{}, err
			}
			var res RunResult
			for _, lead := range leads {
				if err := client.SendFollowUp(ctx, tenant, lead.ID, "relance-j3"); err != nil {
					res.Errors++
					continue
				}
				res.Updated++
				if len(res.SampleIDs) < execlog.SampleIDCap {
					res.SampleIDs = append(res.SampleIDs, lead.ID)
				}
			}
			return res, nil
		},
	}
}

// BulkTag applies a tag to an explicit list of leads.
func BulkTag(client crm.Client) Action {
	return Action{
		Code:        "bulk-tag",
		Type:        "bulk_tag",
		Area:        "leads",
		Description: "apply a tag to a set of leads",
		Run: func(ctx context.Context, tenant string, params map[string]any) (RunResult, error) {
			tag, _ := params["tag"].(string)
			leadIDs := stringSlice(params["lead_ids"])
			if strings.TrimSpace(tag) == "" || len(leadIDs) == 0 {
				return RunResult{}, fmt.Errorf("bulk-tag requires tag and lead_ids")
			}
			updated, err := client.TagLeads(ctx, tenant, leadIDs, tag)
			if err != nil {
				return RunResult{}, err
			}
			return RunResult{
				Updated:   updated,
				SampleIDs: capStrings(leadIDs),
				Data:      map[string]any{"tag": tag},
			}, nil
		},
	}
}

// SendFollowUp sends one templated follow-up to one lead.
func SendFollowUp(client crm.Client) Action {
	return Action{
		Code:        "send-followup",
		Type:        "followup",
		Area:        "leads",
		Description: "send a templated follow-up to one lead",
		Run: func(ctx context.Context, tenant string, params map[string]any) (RunResult, error) {
			leadID, _ := params["lead_id"].(string)
			template, _ := params["template"].(string)
			if leadID == "" || template == "" {
				return RunResult{}, fmt.Errorf("send-followup requires lead_id and template")
			}
			if err := client.SendFollowUp(ctx, tenant, leadID, template); err != nil {
				return RunResult{}, err
			}
			return RunResult{Updated: 1, SampleIDs: []string{leadID}}, nil
		},
	}
}

// CreateCustomField adds a field to the tenant's lead schema. High risk: it
// alters the data model, so it always goes through the consent ledger.
func CreateCustomField(client crm.Client) Action {
	return Action{
		Code:        "create_custom_field",
		Type:        "create_custom_field",
		Area:        "templates",
		HighRisk:    true,
		Description: "add a custom field to the lead schema",
		Run: func(ctx context.Context, tenant string, params map[string]any) (RunResult, error) {
			name, _ := params["name"].(string)
			kind, _ := params["kind"].(string)
			if kind == "" {
				kind = "text"
			}
			fieldID, err := client.CreateCustomField(ctx, tenant, crm.CustomField{Name: name, Kind: kind})
			if err != nil {
				return RunResult{}, err
			}
			return RunResult{Updated: 1, Data: map[string]any{"field_id": fieldID}}, nil
		},
	}
}

// BulkDeleteTags strips a tag from every lead carrying it. High risk: it is a
// destructive bulk update with no undo.
func BulkDeleteTags(client crm.Client) Action {
	return Action{
		Code:        "bulk_delete_tags",
		Type:        "bulk_delete_tags",
		Area:        "leads",
		HighRisk:    true,
		Description: "remove a tag from every lead carrying it",
		Run: func(ctx context.Context, tenant string, params map[string]any) (RunResult, error) {
			tag, _ := params["tag"].(string)
			if strings.TrimSpace(tag) == "" {
				return RunResult{}, fmt.Errorf("bulk_delete_tags requires tag")
			}
			affected, err := client.DeleteTag(ctx, tenant, tag)
			if err != nil {
				return RunResult{}, err
			}
			return RunResult{
				Updated:   len(affected),
				SampleIDs: capStrings(affected),
				Data:      map[string]any{"tag": tag},
			}, nil
		},
	}
}

// stringSlice coerces a decoded JSON array into []string, skipping anything
// that is not a string.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func capStrings(values []string) []string {
	return execlog.CapSamples(values)
}
