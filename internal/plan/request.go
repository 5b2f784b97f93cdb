package plan

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// nodeReq is the JSON shape of a plan request: an object with exactly one
// operator key. requestSchema enforces the structure; the builder only
// resolves names and types.
type nodeReq struct {
	Scan      *scanReq      `json:"scan,omitempty"`
	IndexScan *indexScanReq `json:"index_scan,omitempty"`
	Filter    *filterReq    `json:"filter,omitempty"`
	Project   *projectReq   `json:"project,omitempty"`
	Join      *joinReq      `json:"join,omitempty"`
	Aggregate *aggReq       `json:"aggregate,omitempty"`
	Sort      *sortReq      `json:"sort,omitempty"`
	Limit     *limitReq     `json:"limit,omitempty"`
	View      *viewReq      `json:"view,omitempty"`
}

type scanReq struct {
	Table  string   `json:"table"`
	Filter *exprReq `json:"filter,omitempty"`
}

type indexScanReq struct {
	Index         string        `json:"index"`
	Eq            []types.Value `json:"eq,omitempty"`
	Low           []types.Value `json:"low,omitempty"`
	High          []types.Value `json:"high,omitempty"`
	LowExclusive  bool          `json:"low_exclusive,omitempty"`
	HighExclusive bool          `json:"high_exclusive,omitempty"`
	Filter        *exprReq      `json:"filter,omitempty"`
}

type filterReq struct {
	Input nodeReq `json:"input"`
	Expr  exprReq `json:"expr"`
}

type projectReq struct {
	Input   nodeReq  `json:"input"`
	Columns []string `json:"columns"`
}

type joinReq struct {
	Kind  string  `json:"kind"`
	Left  nodeReq `json:"left"`
	Right nodeReq `json:"right"`
	On    *onReq  `json:"on,omitempty"`
}

type onReq struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type aggReq struct {
	Input   nodeReq      `json:"input"`
	GroupBy []string     `json:"group_by,omitempty"`
	Aggs    []aggSpecReq `json:"aggs"`
}

type aggSpecReq struct {
	Fn     string `json:"fn"`
	Column string `json:"column,omitempty"`
}

type sortReq struct {
	Input nodeReq      `json:"input"`
	Keys  []sortKeyReq `json:"keys"`
}

type sortKeyReq struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

type limitReq struct {
	Input  nodeReq `json:"input"`
	Offset int64   `json:"offset,omitempty"`
	Count  *int64  `json:"count,omitempty"`
}

type viewReq struct {
	Name string `json:"name"`
}

type exprReq struct {
	And []exprReq `json:"and,omitempty"`
	Or  []exprReq `json:"or,omitempty"`
	Not *exprReq  `json:"not,omitempty"`
	Cmp *cmpReq   `json:"cmp,omitempty"`
}

type cmpReq struct {
	Op        string       `json:"op"`
	Column    string       `json:"column"`
	Value     *types.Value `json:"value,omitempty"`
	RhsColumn string       `json:"rhs_column,omitempty"`
}

const requestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$ref": "#/definitions/node",
  "definitions": {
    "node": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "scan": {"$ref": "#/definitions/scan"},
        "index_scan": {"$ref": "#/definitions/indexScan"},
        "filter": {"$ref": "#/definitions/filter"},
        "project": {"$ref": "#/definitions/project"},
        "join": {"$ref": "#/definitions/join"},
        "aggregate": {"$ref": "#/definitions/aggregate"},
        "sort": {"$ref": "#/definitions/sort"},
        "limit": {"$ref": "#/definitions/limit"},
        "view": {"$ref": "#/definitions/view"}
      },
      "additionalProperties": false
    },
    "scan": {
      "type": "object",
      "required": ["table"],
      "properties": {
        "table": {"type": "string", "minLength": 1},
        "filter": {"$ref": "#/definitions/expr"}
      },
      "additionalProperties": false
    },
    "indexScan": {
      "type": "object",
      "required": ["index"],
      "properties": {
        "index": {"type": "string", "minLength": 1},
        "eq": {"type": "array", "items": {"$ref": "#/definitions/value"}},
        "low": {"type": "array", "items": {"$ref": "#/definitions/value"}},
        "high": {"type": "array", "items": {"$ref": "#/definitions/value"}},
        "low_exclusive": {"type": "boolean"},
        "high_exclusive": {"type": "boolean"},
        "filter": {"$ref": "#/definitions/expr"}
      },
      "additionalProperties": false
    },
    "filter": {
      "type": "object",
      "required": ["input", "expr"],
      "properties": {
        "input": {"$ref": "#/definitions/node"},
        "expr": {"$ref": "#/definitions/expr"}
      },
      "additionalProperties": false
    },
    "project": {
      "type": "object",
      "required": ["input", "columns"],
      "properties": {
        "input": {"$ref": "#/definitions/node"},
        "columns": {
          "type": "array",
          "minItems": 1,
          "items": {"type": "string", "minLength": 1}
        }
      },
      "additionalProperties": false
    },
    "join": {
      "type": "object",
      "required": ["kind", "left", "right"],
      "properties": {
        "kind": {"enum": ["inner", "left", "right", "cross"]},
        "left": {"$ref": "#/definitions/node"},
        "right": {"$ref": "#/definitions/node"},
        "on": {
          "type": "object",
          "required": ["left", "right"],
          "properties": {
            "left": {"type": "string", "minLength": 1},
            "right": {"type": "string", "minLength": 1}
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "aggregate": {
      "type": "object",
      "required": ["input", "aggs"],
      "properties": {
        "input": {"$ref": "#/definitions/node"},
        "group_by": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "aggs": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["fn"],
            "properties": {
              "fn": {"enum": ["count", "sum", "min", "max", "avg"]},
              "column": {"type": "string", "minLength": 1}
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "sort": {
      "type": "object",
      "required": ["input", "keys"],
      "properties": {
        "input": {"$ref": "#/definitions/node"},
        "keys": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["column"],
            "properties": {
              "column": {"type": "string", "minLength": 1},
              "desc": {"type": "boolean"}
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "limit": {
      "type": "object",
      "required": ["input"],
      "properties": {
        "input": {"$ref": "#/definitions/node"},
        "offset": {"type": "integer", "minimum": 0},
        "count": {"type": "integer", "minimum": 0}
      },
      "additionalProperties": false
    },
    "view": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    },
    "expr": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "properties": {
        "and": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/expr"}},
        "or": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/expr"}},
        "not": {"$ref": "#/definitions/expr"},
        "cmp": {"$ref": "#/definitions/cmp"}
      },
      "additionalProperties": false
    },
    "cmp": {
      "type": "object",
      "required": ["op", "column"],
      "properties": {
        "op": {"enum": ["eq", "ne", "lt", "le", "gt", "ge"]},
        "column": {"type": "string", "minLength": 1},
        "value": {"$ref": "#/definitions/value"},
        "rhs_column": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    },
    "value": {
      "type": "object",
      "required": ["t"],
      "properties": {
        "t": {"enum": ["null", "bool", "int", "float", "string"]},
        "v": {}
      },
      "additionalProperties": false
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

// ValidateRequest checks raw against the request schema before any
// decoding. Failures are ErrBadRequest with the validator's findings.
func ValidateRequest(raw []byte) error {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	})
	if schemaErr != nil {
		return fmt.Errorf("compile request schema: %w", schemaErr)
	}

	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", relerr.ErrBadRequest, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w: %s", relerr.ErrBadRequest, strings.Join(errs, "; "))
	}
	return nil
}
