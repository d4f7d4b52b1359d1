package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerfectOverlap(t *testing.T) {
	mask := []bool{true, true, false, false, true}

	summary, err := ComputeAll(mask, mask)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.Dice, 1e-6)
	assert.InDelta(t, 1.0, summary.IoU, 1e-6)
	assert.InDelta(t, 1.0, summary.Sensitivity, 1e-6)
	assert.InDelta(t, 1.0, summary.Specificity, 1e-6)
}

func TestNoOverlap(t *testing.T) {
	truth := []bool{true, true, false, false}
	pred := []bool{false, false, true, true}

	summary, err := ComputeAll(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, summary.Dice, 1e-6)
	assert.InDelta(t, 0.0, summary.IoU, 1e-6)
	assert.InDelta(t, 0.0, summary.Sensitivity, 1e-6)
	assert.InDelta(t, 0.0, summary.Specificity, 1e-6)
}

func TestPartialOverlap(t *testing.T) {
	// tp=2, fp=1, fn=1, tn=2.
	truth := []bool{true, true, true, false, false, false}
	pred := []bool{true, true, false, true, false, false}

	summary, err := ComputeAll(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/6.0, summary.Dice, 1e-6)
	assert.InDelta(t, 2.0/4.0, summary.IoU, 1e-6)
	assert.InDelta(t, 2.0/3.0, summary.Sensitivity, 1e-6)
	assert.InDelta(t, 2.0/3.0, summary.Specificity, 1e-6)
}

func TestEmptyMasksScorePerfect(t *testing.T) {
	truth := []bool{false, false, false}
	pred := []bool{false, false, false}

	dice, err := Dice(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dice, 1e-6)

	iou, err := IoU(truth, pred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, iou, 1e-6)
}

func TestStandaloneMetricsMatchSummary(t *testing.T) {
	truth := []bool{true, false, true, true, false}
	pred := []bool{true, true, false, true, false}

	summary, err := ComputeAll(truth, pred)
	require.NoError(t, err)

	dice, err := Dice(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, summary.Dice, dice)

	iou, err := IoU(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, summary.IoU, iou)

	sens, err := Sensitivity(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, summary.Sensitivity, sens)

	spec, err := Specificity(truth, pred)
	require.NoError(t, err)
	assert.Equal(t, summary.Specificity, spec)
}

func TestLengthMismatch(t *testing.T) {
	_, err := Dice([]bool{true}, []bool{true, false})
	assert.Error(t, err)
	_, err = ComputeAll([]bool{true}, []bool{})
	assert.Error(t, err)
}
