// Package project describes what is built: the libraries, the programs
// and the standalone tests of the analyzer source tree. The description
// is read from a YAML file or taken from the built-in Podd table.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/library"
	"github.com/jeffersonlab/poddbuild/internal/resolve"
)

// FileName is the project file looked up in the source root.
const FileName = "podd.yaml"

// Program is an executable linked against libraries of the project.
type Program struct {
	Name string `yaml:"name"`
	// Sources are relative to the source root.
	Sources []string `yaml:"sources"`
	// Links names the modules the program links against.
	Links []string `yaml:"links"`
	// Install copies the program to bin/ with an origin-relative rpath.
	Install bool `yaml:"install"`
}

// Tests describes the standalone test executables: one per source file
// matching Glob, each linked against Links.
type Tests struct {
	Glob  string   `yaml:"glob"`
	Links []string `yaml:"links"`
}

// CompileData places the generated build-facts header in a module.
type CompileData struct {
	Module string `yaml:"module"`
	Header string `yaml:"header"`
	// IncludeModules lists the modules whose source directories are
	// recorded as the include path.
	IncludeModules []string `yaml:"include_modules"`
}

// Project is the complete build description.
type Project struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	SOVersion string `yaml:"soversion,omitempty"`
	// RPath lists build-time runtime search paths embedded in every
	// library and program.
	RPath []string `yaml:"rpath,omitempty"`

	Modules     []*library.Module `yaml:"modules"`
	Programs    []Program         `yaml:"programs,omitempty"`
	Tests       *Tests            `yaml:"tests,omitempty"`
	CompileData *CompileData      `yaml:"compiledata,omitempty"`
}

// Load reads the project file at path. A missing file yields the
// built-in Podd project.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading project: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML project description.
func Parse(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing project: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal encodes p as YAML.
func (p *Project) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Module returns the module named name.
func (p *Project) Module(name string) (*library.Module, bool) {
	i := slices.IndexFunc(p.Modules, func(m *library.Module) bool { return m.Name == name })
	if i < 0 {
		return nil, false
	}
	return p.Modules[i], true
}

// ParseVersion returns the validated project version.
func (p *Project) ParseVersion() (config.Version, error) {
	return config.ParseVersion(p.Version, p.SOVersion)
}

// Validate checks names and references. A module may only link modules
// declared before it.
func (p *Project) Validate() error {
	if _, err := p.ParseVersion(); err != nil {
		return err
	}
	if len(p.Modules) == 0 {
		return errors.New("project declares no modules")
	}
	seen := make(map[string]bool)
	for _, m := range p.Modules {
		if m == nil {
			return errors.New("empty module entry")
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("module %s declared twice", m.Name)
		}
		for _, l := range m.Links {
			if !seen[l] {
				return fmt.Errorf("module %s links %s, which is not declared before it", m.Name, l)
			}
		}
		for _, d := range m.Dependencies {
			if _, ok := resolve.Builtin(d); !ok {
				return fmt.Errorf("module %s: unknown dependency %q", m.Name, d)
			}
		}
		seen[m.Name] = true
	}
	links := func(what string, names []string) error {
		for _, l := range names {
			if !seen[l] {
				return fmt.Errorf("%s links unknown module %s", what, l)
			}
		}
		return nil
	}
	for _, prog := range p.Programs {
		if prog.Name == "" || len(prog.Sources) == 0 {
			return fmt.Errorf("program %q needs a name and sources", prog.Name)
		}
		if err := links("program "+prog.Name, prog.Links); err != nil {
			return err
		}
	}
	if p.Tests != nil {
		if _, err := filepath.Match(p.Tests.Glob, ""); err != nil {
			return fmt.Errorf("tests: %w", err)
		}
		if err := links("tests", p.Tests.Links); err != nil {
			return err
		}
	}
	if cd := p.CompileData; cd != nil {
		if !seen[cd.Module] {
			return fmt.Errorf("compiledata: unknown module %s", cd.Module)
		}
		if cd.Header == "" {
			return errors.New("compiledata: header name is empty")
		}
		for _, m := range cd.IncludeModules {
			if !seen[m] {
				return fmt.Errorf("compiledata: unknown module %s", m)
			}
		}
	}
	return nil
}

// Default returns the Podd analyzer project.
func Default() *Project {
	return &Project{
		Name:    "analyzer",
		Version: "1.7.0",
		Modules: []*library.Module{
			{
				Name:         "Podd",
				Sources:      poddSources,
				DictHeaders:  []string{"THaGlobals.h"},
				ExtraHeaders: []string{"DataType.h", "OptionalType.h", "optional.hpp", "ha_compiledata.h"},
				Versioned:    true,
			},
			{
				Name:         "dc",
				Dir:          "hana_decode",
				Sources:      decoderSources,
				DictName:     "haDecode",
				UseEnv:       true,
				Versioned:    true,
				Dependencies: []string{"evio"},
				Links:        []string{"Podd"},
			},
			{
				Name:      "HallA",
				Sources:   hallaSources,
				UseEnv:    true,
				Versioned: true,
				Links:     []string{"Podd", "dc"},
			},
			{
				Name:         "db",
				Target:       "PoddDB",
				Dir:          "Database",
				Sources:      []string{"Database", "Textvars", "VarType"},
				ExtraHeaders: []string{"Helper.h"},
				Versioned:    true,
			},
		},
		Programs: []Program{
			{Name: "analyzer", Sources: []string{"src/main.cxx"}, Links: []string{"Podd", "dc", "HallA", "db"}, Install: true},
			{Name: "dbconvert", Sources: []string{"apps/dbconvert.cxx"}, Links: []string{"db"}, Install: true},
		},
		Tests: &Tests{Glob: "tests/*_t.cxx", Links: []string{"Podd", "dc", "HallA", "db"}},
		CompileData: &CompileData{
			Module:         "Podd",
			Header:         "ha_compiledata.h",
			IncludeModules: []string{"HallA", "Podd", "dc"},
		},
	}
}

var poddSources = []string{
	"BankData", "BdataLoc", "CodaRawDecoder", "DecData", "DetectorData",
	"FileInclude", "FixedArrayVar", "InterStageModule", "MethodVar",
	"MultiFileRun", "SeqCollectionMethodVar", "SeqCollectionVar",
	"SimDecoder", "THaAnalysisObject", "THaAnalyzer", "THaApparatus",
	"THaArrayString", "THaAvgVertex", "THaBPM", "THaBeam", "THaBeamDet",
	"THaBeamEloss", "THaBeamInfo", "THaBeamModule", "THaCherenkov",
	"THaCluster", "THaCodaRun", "THaCoincTime", "THaCut", "THaCutList",
	"THaDebugModule", "THaDetMap", "THaDetector", "THaDetectorBase",
	"THaElectronKine", "THaElossCorrection", "THaEpicsEbeam",
	"THaEpicsEvtHandler", "THaEvent", "THaEvt125Handler",
	"THaEvtTypeHandler", "THaExtTarCor", "THaFilter", "THaFormula",
	"THaGoldenTrack", "THaHelicityDet", "THaIdealBeam", "THaInterface",
	"THaNamedList", "THaNonTrackingDetector", "THaOutput", "THaPIDinfo",
	"THaParticleInfo", "THaPhotoReaction", "THaPhysicsModule",
	"THaPidDetector", "THaPostProcess", "THaPrimaryKine", "THaPrintOption",
	"THaRTTI", "THaRaster", "THaRasteredBeam", "THaReacPointFoil",
	"THaReactionPoint", "THaRun", "THaRunBase", "THaRunParameters",
	"THaSAProtonEP", "THaScalerEvtHandler", "THaScintillator",
	"THaSecondaryKine", "THaShower", "THaSpectrometer",
	"THaSpectrometerDetector", "THaString", "THaSubDetector",
	"THaTotalShower", "THaTrack", "THaTrackEloss", "THaTrackID",
	"THaTrackInfo", "THaTrackOut", "THaTrackProj", "THaTrackingDetector",
	"THaTrackingModule", "THaTriggerTime", "THaTwoarmVertex",
	"THaUnRasteredBeam", "THaVar", "THaVarList", "THaVertexModule",
	"THaVform", "THaVhist", "TimeCorrectionModule", "Variable",
	"VariableArrayVar", "VectorObjMethodVar", "VectorObjVar", "VectorVar",
}

var decoderSources = []string{
	"Caen1190Module", "Caen775Module", "CodaDecoder", "DAQconfig",
	"F1TDCModule", "Fadc250Module", "FastbusModule", "GenScaler", "Module",
	"PipeliningModule", "THaCodaData", "THaCodaFile", "THaCrateMap",
	"THaEpics", "THaEvData", "THaSlotData", "THaUsrstrutils",
	"VETROCtdcModule",
}

var hallaSources = []string{
	"FADCData", "FadcCherenkov", "FadcScintillator", "FadcShower",
	"THaADCHelicity", "THaDecData", "THaG0Helicity", "THaG0HelicityReader",
	"THaHRS", "THaQWEAKHelicity", "THaQWEAKHelicityReader",
	"THaS2CoincTime", "THaVDC", "THaVDCAnalyticTTDConv", "THaVDCCluster",
	"THaVDCHit", "THaVDCPlane", "THaVDCPoint", "TrigBitLoc",
}
