package api

// pageTemplates holds the server-rendered pages. Values are escaped by
// html/template.
const pageTemplates = `
{{define "home"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Name}}</title></head>
<body style="font-family:Inter,system-ui;margin:40px">
<h2>Trial Matcher</h2>
<p>Try the example report: <a href="/report/{{.ExamplePatient}}" style="color:#2563eb">/report/{{.ExamplePatient}}</a></p>
<p>JSON API: <code>POST /api/v1/match</code></p>
</body></html>{{end}}

{{define "not_found"}}<!doctype html>
<html><body style="font-family:Inter,system-ui;margin:40px"><h3>Patient {{.PatientID}} not found</h3></body></html>{{end}}

{{define "error"}}<!doctype html>
<html><body style="font-family:Inter,system-ui;margin:40px">
<h3>Report unavailable</h3>
<p>{{.Code}}: {{.Message}}</p>
{{if .RequestID}}<p style="color:#6b7280">Request {{.RequestID}}</p>{{end}}
</body></html>{{end}}

{{define "report"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Trial matches {{.PatientID}}</title>
<style>
body{font-family:Inter,system-ui;margin:40px;color:#111827}
.card{border:1px solid #e5e7eb;border-radius:8px;padding:16px;margin:12px 0}
.muted{color:#6b7280}
pre{white-space:pre-wrap;background:#f9fafb;padding:12px;border-radius:6px}
</style></head>
<body>
<h2>Trial matches for {{.PatientID}}</h2>
<h3>Patient summary</h3>
<p>{{.PatientSummary}}</p>
<h3>Notes (redacted preview)</h3>
<pre>{{.NotesPreview}}</pre>
<h3>Candidate trials</h3>
{{range .Matches}}<div class="card">
<div><a href="https://clinicaltrials.gov/study/{{.NCTID}}">{{.NCTID}}</a> {{.Title}}</div>
<div class="muted">score {{printf "%.3f" .Score}} &middot; vector similarity {{printf "%.3f" .VectorSimilarity}}</div>
<div class="muted">{{range $k, $v := .ScoreBreakdown}}{{$k}} {{printf "%.2f" $v}} {{end}}</div>
{{if .Uncertain}}<div>Uncertain: {{range $i, $u := .Uncertain}}{{if $i}}, {{end}}{{$u}}{{end}}</div>{{end}}
{{if .Rationale}}<p>{{.Rationale}}</p>{{end}}
</div>{{else}}<p class="muted">No trials found.</p>{{end}}
</body></html>{{end}}
`
