package envspec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/internal/envspec"
)

func TestParse(t *testing.T) {
	t.Setenv("TASKMILL_ENVSPEC_TEST_SET", "from-process")

	tests := map[string]struct {
		specs  []string
		expEnv map[string]string
		expErr bool
	}{
		"A key=value spec should parse into the map.": {
			specs:  []string{"FOO=bar"},
			expEnv: map[string]string{"FOO": "bar"},
		},

		"A value containing '=' should keep everything after the first cut.": {
			specs:  []string{"FOO=a=b"},
			expEnv: map[string]string{"FOO": "a=b"},
		},

		"A bare key should pass the value through from the process environment.": {
			specs:  []string{"TASKMILL_ENVSPEC_TEST_SET"},
			expEnv: map[string]string{"TASKMILL_ENVSPEC_TEST_SET": "from-process"},
		},

		"A bare key missing from the process environment should fail.": {
			specs:  []string{"TASKMILL_ENVSPEC_TEST_UNSET"},
			expErr: true,
		},

		"An invalid key should fail.": {
			specs:  []string{"1BAD=x"},
			expErr: true,
		},

		"An empty spec should fail.": {
			specs:  []string{""},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env, err := envspec.Parse(test.specs)

			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expEnv, env)
		})
	}
}

func TestMerge(t *testing.T) {
	merged := envspec.Merge(
		map[string]string{"A": "1", "B": "2"},
		map[string]string{"B": "3", "C": "4"},
	)
	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "4"}, merged)
}
