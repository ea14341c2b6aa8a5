package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/originpath/assocpipeline/internal/agent"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/pkg/salesforce"
)

// exportSinkKinds maps each export sink's agent name to the kind
// recorded in ExportCursor.CompletedKinds, so a resumed run knows which
// sinks already wrote their artifact.
var exportSinkKinds = map[string]string{
	"export.salesforce_sink": "salesforce",
	"export.xlsx_sink":       "xlsx",
}

// ExportTaskInput carries the resolved entities to mirror into a sink;
// like resolution and graph building, export runs as one whole-batch
// task per sink.
type ExportTaskInput struct {
	Entities  []model.CanonicalEntity `json:"entities"`
	Companies []model.Company         `json:"companies"`
	JobID     string                  `json:"job_id"`
	OutputDir string                  `json:"output_dir"`
}

// ExportOutput records the artifact an export sink produced.
type ExportOutput struct {
	Artifact model.ExportArtifact `json:"artifact"`
}

// SalesforceSink mirrors every canonical entity into a Salesforce
// Account, updating by website match where one exists and creating
// otherwise, grounded on the teacher's QualityGate account-sync step.
type SalesforceSink struct{ deps Deps }

func (a *SalesforceSink) Name() string           { return "export.salesforce_sink" }
func (a *SalesforceSink) InputSchemaID() string  { return "export.task.v1" }
func (a *SalesforceSink) OutputSchemaID() string { return "export.output.v1" }
func (a *SalesforceSink) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityNetwork}
}

func (a *SalesforceSink) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ExportTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	companiesByID := map[string]model.Company{}
	for _, c := range in.Companies {
		companiesByID[c.ID] = c
	}

	mirrored := 0
	if a.deps.Salesforce != nil {
		for _, entity := range in.Entities {
			fields := accountFields(entity, companiesByID)
			website, _ := fields["Website"].(string)

			existing, err := salesforce.FindAccountByWebsite(ctx, a.deps.Salesforce, website)
			if err != nil {
				continue
			}
			if existing != nil {
				if err := salesforce.UpdateAccount(ctx, a.deps.Salesforce, existing.ID, fields); err == nil {
					mirrored++
				}
				continue
			}
			if _, err := salesforce.CreateAccount(ctx, a.deps.Salesforce, fields); err == nil {
				mirrored++
			}
		}
	}

	artifact := model.ExportArtifact{
		ID:          "sf-" + in.JobID,
		Kind:        "salesforce",
		Path:        "salesforce://accounts",
		RecordCount: mirrored,
		ExportedAt:  time.Now(),
	}
	return marshalExportOutput(artifact)
}

func accountFields(entity model.CanonicalEntity, companiesByID map[string]model.Company) map[string]any {
	fields := map[string]any{"Name": entity.Name}
	for _, memberID := range entity.MemberIDs {
		c, ok := companiesByID[memberID]
		if !ok {
			continue
		}
		if c.Domain != "" {
			fields["Website"] = c.Domain
		}
		if industries, ok := c.Fields["industries"].([]any); ok && len(industries) > 0 {
			if s, ok := industries[0].(string); ok {
				fields["Industry"] = s
			}
		}
		break
	}
	return fields
}

func marshalExportOutput(artifact model.ExportArtifact) (model.AgentResult, error) {
	payload, err := json.Marshal(ExportOutput{Artifact: artifact})
	if err != nil {
		return model.AgentResult{}, err
	}
	return model.AgentResult{Success: true, Output: payload}, nil
}

// XLSXSink writes every canonical entity and its member companies to a
// spreadsheet workbook, one row per entity, grounded on the teacher's
// xlsx.go reader used in reverse: writing instead of parsing rows.
type XLSXSink struct{ deps Deps }

func (a *XLSXSink) Name() string           { return "export.xlsx_sink" }
func (a *XLSXSink) InputSchemaID() string  { return "export.task.v1" }
func (a *XLSXSink) OutputSchemaID() string { return "export.output.v1" }
func (a *XLSXSink) RequiredCapabilities() []agent.Capability {
	return []agent.Capability{}
}

func (a *XLSXSink) Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error) {
	var in ExportTaskInput
	if err := json.Unmarshal(task.Payload, &in); err != nil {
		return model.AgentResult{}, err
	}

	companiesByID := map[string]model.Company{}
	for _, c := range in.Companies {
		companiesByID[c.ID] = c
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Entities")
	if err != nil {
		return model.AgentResult{}, err
	}

	header := sheet.AddRow()
	for _, h := range []string{"Entity ID", "Name", "Domain", "Member Count"} {
		header.AddCell().Value = h
	}

	for _, entity := range in.Entities {
		row := sheet.AddRow()
		row.AddCell().Value = entity.ID
		row.AddCell().Value = entity.Name

		domain := ""
		for _, memberID := range entity.MemberIDs {
			if c, ok := companiesByID[memberID]; ok && c.Domain != "" {
				domain = c.Domain
				break
			}
		}
		row.AddCell().Value = domain
		row.AddCell().Value = strconv.Itoa(len(entity.MemberIDs))
	}

	outputDir := in.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	path := filepath.Join(outputDir, fmt.Sprintf("export-%s.xlsx", in.JobID))
	if err := file.Save(path); err != nil {
		return model.AgentResult{}, err
	}

	artifact := model.ExportArtifact{
		ID:          "xlsx-" + in.JobID,
		Kind:        "xlsx",
		Path:        path,
		RecordCount: len(in.Entities),
		ExportedAt:  time.Now(),
	}
	return marshalExportOutput(artifact)
}

// NewExportHandler builds the PhaseHandler that mirrors resolved
// entities into every configured sink (Salesforce, XLSX) and records
// one ExportArtifact per sink.
func NewExportHandler(exec *executor.Executor, outputDir string, timeout time.Duration) orchestrator.PhaseHandler {
	return func(ctx context.Context, o *orchestrator.Orchestrator) (string, error) {
		entities := o.State().CanonicalEntities.Items()
		if len(entities) == 0 {
			return "no entities to export", nil
		}

		var cursor checkpoint.ExportCursor
		o.LoadCursor(&cursor)
		done := map[string]bool{}
		for _, k := range cursor.CompletedKinds {
			done[k] = true
		}

		payload, err := json.Marshal(ExportTaskInput{
			Entities:  entities,
			Companies: o.State().Companies.Items(),
			JobID:     o.JobID(),
			OutputDir: outputDir,
		})
		if err != nil {
			return "", err
		}

		var artifacts []model.ExportArtifact
		skipped := 0
		for _, agentName := range []string{"export.salesforce_sink", "export.xlsx_sink"} {
			if done[exportSinkKinds[agentName]] {
				skipped++
				continue
			}
			result, err := exec.Spawn(ctx, agentName, model.AgentTask{AgentType: agentName, Payload: payload}, timeout)
			if err != nil {
				continue
			}
			var out ExportOutput
			if err := json.Unmarshal(result.Output, &out); err != nil {
				continue
			}
			artifacts = append(artifacts, out.Artifact)
			cursor.CompletedKinds = append(cursor.CompletedKinds, exportSinkKinds[agentName])
		}
		orchestrator.MergeDelta(o, o.State().Exports, model.AgentDelta[model.ExportArtifact]{NewRecords: artifacts})
		o.SaveCursor(&cursor)

		return "exported " + strconv.Itoa(len(entities)) + " entities to " + strconv.Itoa(len(artifacts)) + " sinks (" + strconv.Itoa(skipped) + " already completed)", nil
	}
}
