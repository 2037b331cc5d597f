package fanout

import (
	"github.com/avmeta/harvester/pkg/types"
)

// Field accessors for the per-field priority walk. Scalar fields use
// the shared validity rule; list fields just need to be non-empty.
type scalarField struct {
	name string
	get  func(*types.CrawlerData) string
	set  func(*types.CrawlerData, string)
}

type listField struct {
	name string
	get  func(*types.CrawlerData) []string
	set  func(*types.CrawlerData, []string)
}

var scalarFields = []scalarField{
	{"number", func(d *types.CrawlerData) string { return d.Number }, func(d *types.CrawlerData, v string) { d.Number = v }},
	{"title", func(d *types.CrawlerData) string { return d.Title }, func(d *types.CrawlerData, v string) { d.Title = v }},
	{"originaltitle", func(d *types.CrawlerData) string { return d.OriginalTitle }, func(d *types.CrawlerData, v string) { d.OriginalTitle = v }},
	{"outline", func(d *types.CrawlerData) string { return d.Outline }, func(d *types.CrawlerData, v string) { d.Outline = v }},
	{"originalplot", func(d *types.CrawlerData) string { return d.OriginalPlot }, func(d *types.CrawlerData, v string) { d.OriginalPlot = v }},
	{"release", func(d *types.CrawlerData) string { return d.Release }, func(d *types.CrawlerData, v string) { d.Release = v }},
	{"year", func(d *types.CrawlerData) string { return d.Year }, func(d *types.CrawlerData, v string) { d.Year = v }},
	{"runtime", func(d *types.CrawlerData) string { return d.Runtime }, func(d *types.CrawlerData, v string) { d.Runtime = v }},
	{"score", func(d *types.CrawlerData) string { return d.Score }, func(d *types.CrawlerData, v string) { d.Score = v }},
	{"series", func(d *types.CrawlerData) string { return d.Series }, func(d *types.CrawlerData, v string) { d.Series = v }},
	{"studio", func(d *types.CrawlerData) string { return d.Studio }, func(d *types.CrawlerData, v string) { d.Studio = v }},
	{"publisher", func(d *types.CrawlerData) string { return d.Publisher }, func(d *types.CrawlerData, v string) { d.Publisher = v }},
	{"thumb", func(d *types.CrawlerData) string { return d.Thumb }, func(d *types.CrawlerData, v string) { d.Thumb = v }},
	{"poster", func(d *types.CrawlerData) string { return d.Poster }, func(d *types.CrawlerData, v string) { d.Poster = v }},
	{"trailer", func(d *types.CrawlerData) string { return d.Trailer }, func(d *types.CrawlerData, v string) { d.Trailer = v }},
	{"mosaic", func(d *types.CrawlerData) string { return d.Mosaic }, func(d *types.CrawlerData, v string) { d.Mosaic = v }},
	{"external_id", func(d *types.CrawlerData) string { return d.ExternalID }, func(d *types.CrawlerData, v string) { d.ExternalID = v }},
	{"image_cut", func(d *types.CrawlerData) string { return d.ImageCut }, func(d *types.CrawlerData, v string) { d.ImageCut = v }},
}

var listFields = []listField{
	{"actors", func(d *types.CrawlerData) []string { return d.Actors }, func(d *types.CrawlerData, v []string) { d.Actors = v }},
	{"all_actors", func(d *types.CrawlerData) []string { return d.AllActors }, func(d *types.CrawlerData, v []string) { d.AllActors = v }},
	{"directors", func(d *types.CrawlerData) []string { return d.Directors }, func(d *types.CrawlerData, v []string) { d.Directors = v }},
	{"tags", func(d *types.CrawlerData) []string { return d.Tags }, func(d *types.CrawlerData, v []string) { d.Tags = v }},
	{"extrafanart", func(d *types.CrawlerData) []string { return d.ExtraFanart }, func(d *types.CrawlerData, v []string) { d.ExtraFanart = v }},
}

// merge folds the per-site records into one, walking each field's
// priority list and taking the first valid value.
func (e *Engine) merge(order []types.Website, siteData map[types.Website]*types.CrawlerData) *types.MergedRecord {
	record := &types.MergedRecord{
		FieldSources: make(map[string]types.Website),
		SiteData:     siteData,
	}

	for _, field := range scalarFields {
		for _, site := range e.fieldOrder(field.name, order) {
			data, ok := siteData[site]
			if !ok {
				continue
			}
			if value := field.get(data); types.ValidField(value) {
				field.set(&record.CrawlerData, value)
				record.FieldSources[field.name] = site
				break
			}
		}
	}
	for _, field := range listFields {
		for _, site := range e.fieldOrder(field.name, order) {
			data, ok := siteData[site]
			if !ok {
				continue
			}
			if value := field.get(data); len(value) > 0 {
				field.set(&record.CrawlerData, value)
				record.FieldSources[field.name] = site
				break
			}
		}
	}

	// The image-download flag follows whichever site won the poster.
	if site, ok := record.FieldSources["poster"]; ok {
		record.ImageDownload = siteData[site].ImageDownload
	}

	// Year couples to the winning release unless a site in the year
	// priority list set it explicitly.
	if !types.ValidField(record.Year) {
		if year := types.YearFromRelease(record.Release); year != "" {
			record.Year = year
			if site, ok := record.FieldSources["release"]; ok {
				record.FieldSources["year"] = site
			}
		}
	}

	// The record's website and source URL follow the title winner.
	if site, ok := record.FieldSources["title"]; ok {
		record.Website = site
		record.Source = siteData[site].Source
	}
	return record
}

// fieldOrder returns the site priority for one field, falling back to
// the fanout order when the field has no explicit list.
func (e *Engine) fieldOrder(field string, order []types.Website) []types.Website {
	raw, ok := e.cfg.FieldPriority[field]
	if !ok || len(raw) == 0 {
		return order
	}
	out := make([]types.Website, 0, len(raw))
	for _, name := range raw {
		out = append(out, types.Website(name))
	}
	return out
}
