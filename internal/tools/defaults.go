package tools

import (
	"log"

	"github.com/mohammad-safakhou/veritas/config"
)

// NewSearcherRegistry builds the tool set handed to a search agent. The base
// bundle is always present; selected extends it with optional bundles chosen
// per session ("tavily_search" today).
func NewSearcherRegistry(cfg config.ToolsConfig, selected []string, logger *log.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewClockTool())
	r.Register(NewGoogleOfficialTool(cfg.GoogleAPIKey, cfg.GoogleCX, cfg.SearchTimeout))
	r.Register(NewGoogleAlternativeTool(cfg.SearchTimeout))
	r.Register(NewBingTool(cfg.SearchTimeout))
	r.Register(NewBaiduTool(cfg.SearchTimeout))
	r.Register(NewWikipediaTool(cfg.SearchTimeout, cfg.DefaultLanguage))
	r.Register(NewWebpageTool(cfg.RenderTimeout, cfg.MaxFetchChars))
	r.Register(NewPDFTool(cfg.RenderTimeout, cfg.MaxPDFPageSpan))
	for _, name := range selected {
		if name == "tavily_search" {
			r.Register(NewTavilyTool(cfg.TavilyAPIKey, cfg.SearchTimeout))
		}
	}
	return r
}

// NewWikipediaRegistry is the narrow tool set for the knowledge-extraction
// sub-agent: the clock plus Wikipedia.
func NewWikipediaRegistry(cfg config.ToolsConfig, logger *log.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewClockTool())
	r.Register(NewWikipediaTool(cfg.SearchTimeout, cfg.DefaultLanguage))
	return r
}
