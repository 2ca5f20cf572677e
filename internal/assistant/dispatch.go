package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elfrid-labs/elfrid/internal/agents"
	"github.com/elfrid-labs/elfrid/internal/domain"
	"github.com/elfrid-labs/elfrid/internal/store"
)

// Dispatcher executes plan items against the store and the agent
// registry, accumulating a context map for the synthesis prompt.
//
// Dispatch is deliberately forgiving: items run sequentially in plan
// order, a malformed or unknown item is skipped with a diagnostic
// entry, and a store error on one item degrades to an informational
// string instead of aborting the batch. There is no transaction across
// items.
type Dispatcher struct {
	repo     store.Repository
	registry *agents.Registry
}

// NewDispatcher creates a dispatcher over the given store and registry.
func NewDispatcher(repo store.Repository, registry *agents.Registry) *Dispatcher {
	return &Dispatcher{repo: repo, registry: registry}
}

// Execute runs every plan item and returns the accumulated context map.
// It never returns an error: per-item failures become context entries.
func (d *Dispatcher) Execute(ctx context.Context, userID int64, items []PlanItem) map[string]string {
	results := make(map[string]string)

	for i, item := range items {
		switch item.Action {
		case ActionRead:
			d.read(ctx, userID, item, results)
		case ActionUpdate:
			d.update(ctx, userID, item, results)
		case ActionCreateTable:
			d.createTable(ctx, item, results)
		case ActionListTables:
			d.listTables(ctx, results)
		case ActionGetSchema:
			d.getSchema(ctx, item, results)
		case ActionExecuteQuery:
			d.executeQuery(ctx, item, results)
		case ActionInsertData:
			d.insertData(ctx, item, results)
		case ActionUpdateData:
			d.updateData(ctx, item, results)
		case ActionCall:
			d.call(item, results)
		default:
			slog.Warn("skipping unrecognized plan action", "action", item.Action, "index", i)
			results[fmt.Sprintf("unrecognized_action_%d", i)] = fmt.Sprintf("unrecognized action %q", item.Action)
		}
	}

	return results
}

func (d *Dispatcher) read(ctx context.Context, userID int64, item PlanItem, results map[string]string) {
	if !validNamespace(item.Type) || item.TableName == "" {
		diagnose(results, item, "read requires type (memory|mode) and table_name")
		return
	}

	key := item.Type + "_" + item.TableName
	var data string
	var err error
	if item.Type == "memory" {
		data, err = d.repo.ReadMemory(ctx, userID, item.TableName)
	} else {
		data, err = d.repo.ReadMode(ctx, userID, item.TableName)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		results[key] = fmt.Sprintf("no %s named %q exists for this user", item.Type, item.TableName)
	case err != nil:
		results[key] = "read failed: " + err.Error()
	default:
		results[key] = data
	}
}

func (d *Dispatcher) update(ctx context.Context, userID int64, item PlanItem, results map[string]string) {
	if !validNamespace(item.Type) || item.TableName == "" || item.Data == "" {
		diagnose(results, item, "update requires type (memory|mode), table_name and data")
		return
	}

	key := item.Type + "_" + item.TableName
	var err error
	if item.Type == "memory" {
		err = d.repo.UpsertMemory(ctx, userID, item.TableName, domain.Document(item.Data))
	} else {
		err = d.repo.UpsertMode(ctx, userID, item.TableName, domain.Document(item.Data))
	}
	if err != nil {
		results[key] = "update failed: " + err.Error()
		return
	}
	results[key] = fmt.Sprintf("%s %q updated", item.Type, item.TableName)
}

func (d *Dispatcher) createTable(ctx context.Context, item PlanItem, results map[string]string) {
	if item.TableName == "" || item.Schema == "" {
		diagnose(results, item, "create_table requires table_name and schema")
		return
	}
	key := "create_table_" + item.TableName
	if err := d.repo.CreateTable(ctx, item.TableName, item.Schema); err != nil {
		results[key] = "create table failed: " + err.Error()
		return
	}
	results[key] = fmt.Sprintf("table %q created", item.TableName)
}

func (d *Dispatcher) listTables(ctx context.Context, results map[string]string) {
	names, err := d.repo.ListTables(ctx)
	if err != nil {
		results["tables"] = "list tables failed: " + err.Error()
		return
	}
	results["tables"] = mustJSON(names)
}

func (d *Dispatcher) getSchema(ctx context.Context, item PlanItem, results map[string]string) {
	if item.TableName == "" {
		schemas, err := d.repo.GetAllSchemas(ctx)
		if err != nil {
			results["schema"] = "get schema failed: " + err.Error()
			return
		}
		results["schema"] = mustJSON(schemas)
		return
	}

	key := "schema_" + item.TableName
	ddl, err := d.repo.GetSchema(ctx, item.TableName)
	if err != nil {
		results[key] = "get schema failed: " + err.Error()
		return
	}
	results[key] = ddl
}

func (d *Dispatcher) executeQuery(ctx context.Context, item PlanItem, results map[string]string) {
	if item.Query == "" {
		diagnose(results, item, "execute_query requires query")
		return
	}
	rows, err := d.repo.RunReadOnlyQuery(ctx, item.Query)
	if err != nil {
		results["query_results"] = "query failed: " + err.Error()
		return
	}
	results["query_results"] = mustJSON(rows)
}

func (d *Dispatcher) insertData(ctx context.Context, item PlanItem, results map[string]string) {
	if item.TableName == "" || len(item.Values) == 0 {
		diagnose(results, item, "insert_data requires table_name and values")
		return
	}
	key := "insert_" + item.TableName
	id, err := d.repo.InsertRow(ctx, item.TableName, item.Values)
	if err != nil {
		results[key] = "insert failed: " + err.Error()
		return
	}
	results[key] = fmt.Sprintf("inserted row %d into %q", id, item.TableName)
}

func (d *Dispatcher) updateData(ctx context.Context, item PlanItem, results map[string]string) {
	if item.TableName == "" || len(item.Values) == 0 || len(item.Condition) == 0 {
		diagnose(results, item, "update_data requires table_name, condition and values")
		return
	}
	key := "update_" + item.TableName
	count, err := d.repo.UpdateRows(ctx, item.TableName, item.Condition, item.Values)
	if err != nil {
		results[key] = "update failed: " + err.Error()
		return
	}
	results[key] = fmt.Sprintf("updated %d row(s) in %q", count, item.TableName)
}

func (d *Dispatcher) call(item PlanItem, results map[string]string) {
	if item.Type != "agent" || item.AgentName == "" {
		diagnose(results, item, "call requires type=agent and agent_name")
		return
	}
	key := "agent_" + item.AgentName
	out, ok := d.registry.Invoke(item.AgentName)
	if !ok {
		slog.Warn("plan requested unknown agent", "agent", item.AgentName)
		results[key] = fmt.Sprintf("unknown agent %q", item.AgentName)
		return
	}
	results[key] = out
}

func validNamespace(t string) bool {
	return t == "memory" || t == "mode"
}

func diagnose(results map[string]string, item PlanItem, msg string) {
	slog.Warn("skipping malformed plan item", "action", item.Action, "reason", msg)
	results[fmt.Sprintf("malformed_%s", item.Action)] = msg
}

func mustJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("encoding failed: %v", err)
	}
	return string(out)
}
