package validation

import (
	"testing"

	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDAG_Linear(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [{"name": "A", "type": "t"}, {"name": "B", "type": "t"}, {"name": "C", "type": "t"}],
	  "connections": {
	    "A": {"main": [[{"node": "B", "index": 0}]]},
	    "B": {"main": [[{"node": "C", "index": 0}]]}
	  }
	}`)
	result := validateDAG(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestDAG_Diamond(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [{"name": "A", "type": "t"}, {"name": "B", "type": "t"}, {"name": "C", "type": "t"}, {"name": "D", "type": "t"}],
	  "connections": {
	    "A": {"main": [[{"node": "B", "index": 0}, {"node": "C", "index": 0}]]},
	    "B": {"main": [[{"node": "D", "index": 0}]]},
	    "C": {"main": [[{"node": "D", "index": 0}]]}
	  }
	}`)
	assert.True(t, validateDAG(def).Valid())
}

func TestDAG_DuplicateEdgeCountedOnce(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [{"name": "A", "type": "t"}, {"name": "B", "type": "t"}],
	  "connections": {"A": {"main": [[{"node": "B", "index": 0}], [{"node": "B", "index": 0}]]}}
	}`)
	assert.True(t, validateDAG(def).Valid())
}

func TestDAG_Cycle(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [{"name": "S", "type": "t"}, {"name": "A", "type": "t"}, {"name": "B", "type": "t"}],
	  "connections": {
	    "S": {"main": [[{"node": "A", "index": 0}]]},
	    "A": {"main": [[{"node": "B", "index": 0}]]},
	    "B": {"main": [[{"node": "A", "index": 0}]]}
	  }
	}`)
	result := validateDAG(def)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "[A B]")
	assert.Empty(t, result.Warnings, "reachability skipped on cycle")
}

func TestDAG_DownstreamOfDisabled(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [
	    {"name": "Start", "type": "t"},
	    {"name": "Off", "type": "t", "disabled": true},
	    {"name": "After", "type": "t"},
	    {"name": "Other", "type": "t"}
	  ],
	  "connections": {
	    "Start": {"main": [[{"node": "Off", "index": 0}, {"node": "Other", "index": 0}]]},
	    "Off":   {"main": [[{"node": "After", "index": 0}]]}
	  }
	}`)
	result := validateDAG(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "nodes[2]", result.Warnings[0].Path)
	assert.Contains(t, result.Warnings[0].Message, "After")
	assert.Equal(t, "After", result.Warnings[0].Node)
}

func TestDAG_ReachableThroughAnotherPath(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [
	    {"name": "Start", "type": "t"},
	    {"name": "Off", "type": "t", "disabled": true},
	    {"name": "On", "type": "t"},
	    {"name": "Join", "type": "t"}
	  ],
	  "connections": {
	    "Start": {"main": [[{"node": "Off", "index": 0}, {"node": "On", "index": 0}]]},
	    "Off":   {"main": [[{"node": "Join", "index": 0}]]},
	    "On":    {"main": [[{"node": "Join", "index": 0}]]}
	  }
	}`)
	result := validateDAG(def)
	assert.Empty(t, result.Warnings)
}

func TestDAG_AllEntriesDisabled(t *testing.T) {
	def := parseGraph(t, `{
	  "nodes": [{"name": "Start", "type": "t", "disabled": true}, {"name": "B", "type": "t"}],
	  "connections": {"Start": {"main": [[{"node": "B", "index": 0}]]}}
	}`)
	result := validateDAG(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "nodes", result.Warnings[1].Path)
}
