package strategy

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/farreach/jobingest/internal/fetch"
	"github.com/farreach/jobingest/internal/jobs"
)

// Script runs an externally generated strategy body inside an embedded
// JavaScript sandbox. The body must define run(source) returning an array of
// job objects. The namespace exposes only fetchPage(url) and newJob(fields);
// there is no ambient I/O.
type Script struct {
	deps Deps
}

// NewScript builds the script strategy.
func NewScript(deps Deps) *Script {
	return &Script{deps: deps}
}

// Run implements Strategy. Compilation and contract failures surface as
// configuration errors for this source only.
func (s *Script) Run(ctx context.Context, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	if src.ScriptBody == "" {
		return nil, []string{fmt.Sprintf("no strategy script configured for %s", src.Name)}
	}

	vm := goja.New()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("run canceled")
		case <-stop:
		}
	}()

	mustSet := func(name string, value any) bool {
		return vm.Set(name, value) == nil
	}
	ok := mustSet("fetchPage", func(rawURL string) any {
		doc, err := s.deps.Fetcher.Fetch(ctx, rawURL, fetch.Options{SkipRobots: src.SkipRobotsCheck})
		if err != nil {
			return nil
		}
		return doc.HTML
	})
	ok = ok && mustSet("newJob", func(fields map[string]any) map[string]any {
		return fields
	})
	if !ok {
		return nil, []string{fmt.Sprintf("failed to prepare script sandbox for %s", src.Name)}
	}

	if _, err := vm.RunString(src.ScriptBody); err != nil {
		return nil, []string{fmt.Sprintf("failed to compile strategy script for %s: %v", src.Name, err)}
	}
	runFn, isFn := goja.AssertFunction(vm.Get("run"))
	if !isFn {
		return nil, []string{fmt.Sprintf("strategy script for %s does not define run(source)", src.Name)}
	}

	sourceArg := vm.ToValue(map[string]any{
		"name":            src.Name,
		"baseUrl":         src.BaseURL,
		"listingUrl":      src.ListingURL,
		"organization":    src.Organization,
		"defaultLocation": src.DefaultLocation,
		"defaultState":    src.DefaultState,
	})
	result, err := runFn(goja.Undefined(), sourceArg)
	if err != nil {
		return nil, []string{fmt.Sprintf("strategy script failed for %s: %v", src.Name, err)}
	}

	return exportScriptJobs(result, src)
}

func exportScriptJobs(result goja.Value, src jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	exported, isSlice := result.Export().([]any)
	if !isSlice {
		return nil, []string{fmt.Sprintf("strategy script for %s must return an array of jobs", src.Name)}
	}

	var (
		found []jobs.ScrapedJob
		errs  []string
	)
	for i, item := range exported {
		fields, isMap := item.(map[string]any)
		if !isMap {
			errs = append(errs, fmt.Sprintf("script job %d for %s is not an object", i+1, src.Name))
			continue
		}
		job := jobs.ScrapedJob{
			ExternalID:   scriptField(fields, "external_id", "externalId"),
			Title:        scriptField(fields, "title"),
			URL:          scriptField(fields, "url"),
			Organization: scriptField(fields, "organization"),
			Location:     scriptField(fields, "location"),
			State:        jobs.NormalizeState(scriptField(fields, "state")),
			Description:  scriptField(fields, "description"),
			JobType:      jobs.NormalizeJobType(scriptField(fields, "job_type", "jobType")),
			SalaryInfo:   scriptField(fields, "salary_info", "salaryInfo"),
		}
		if job.Title == "" {
			continue
		}
		if job.Organization == "" {
			job.Organization = src.Organization
		}
		if job.Location == "" {
			job.Location = src.DefaultLocation
		}
		if job.ExternalID == "" {
			if job.URL != "" {
				job.ExternalID = jobs.ExternalID(job.URL)
			} else {
				job.ExternalID = jobs.ExternalID(src.Name + ":" + job.Title)
			}
		}
		found = append(found, job)
	}
	return found, errs
}

func scriptField(fields map[string]any, names ...string) string {
	for _, name := range names {
		if value, ok := fields[name].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
