// Package metrics evaluates segmentation quality between a ground-truth
// mask and a predicted mask. All metrics carry a small smoothing term so
// empty masks score 1.0 against empty masks instead of dividing by zero.
package metrics

import "fmt"

// Smooth is the smoothing term added to numerator and denominator of every
// metric.
const Smooth = 1e-7

// Summary holds all segmentation metrics for one mask pair.
type Summary struct {
	// Dice is the Dice coefficient 2|A∩B| / (|A|+|B|), the F1 score of
	// segmentation.
	Dice float64

	// IoU is the Jaccard index |A∩B| / |A∪B|.
	IoU float64

	// Sensitivity is the true positive rate TP / (TP+FN), the share of
	// ground-truth voxels recovered.
	Sensitivity float64

	// Specificity is the true negative rate TN / (TN+FP).
	Specificity float64
}

// counts tallies the confusion matrix of two equal-length boolean masks.
func counts(truth, pred []bool) (tp, fp, fn, tn float64, err error) {
	if len(truth) != len(pred) {
		return 0, 0, 0, 0, fmt.Errorf("metrics: mask lengths differ, %d vs %d", len(truth), len(pred))
	}
	for i := range truth {
		switch {
		case truth[i] && pred[i]:
			tp++
		case !truth[i] && pred[i]:
			fp++
		case truth[i] && !pred[i]:
			fn++
		default:
			tn++
		}
	}
	return tp, fp, fn, tn, nil
}

// Dice computes the Dice coefficient of two equal-length masks.
func Dice(truth, pred []bool) (float64, error) {
	tp, fp, fn, _, err := counts(truth, pred)
	if err != nil {
		return 0, err
	}
	return (2*tp + Smooth) / (2*tp + fp + fn + Smooth), nil
}

// IoU computes the intersection over union of two equal-length masks.
func IoU(truth, pred []bool) (float64, error) {
	tp, fp, fn, _, err := counts(truth, pred)
	if err != nil {
		return 0, err
	}
	return (tp + Smooth) / (tp + fp + fn + Smooth), nil
}

// Sensitivity computes the true positive rate of pred against truth.
func Sensitivity(truth, pred []bool) (float64, error) {
	tp, _, fn, _, err := counts(truth, pred)
	if err != nil {
		return 0, err
	}
	return (tp + Smooth) / (tp + fn + Smooth), nil
}

// Specificity computes the true negative rate of pred against truth.
func Specificity(truth, pred []bool) (float64, error) {
	_, fp, _, tn, err := counts(truth, pred)
	if err != nil {
		return 0, err
	}
	return (tn + Smooth) / (tn + fp + Smooth), nil
}

// ComputeAll computes every metric in one pass over the masks.
func ComputeAll(truth, pred []bool) (Summary, error) {
	tp, fp, fn, tn, err := counts(truth, pred)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Dice:        (2*tp + Smooth) / (2*tp + fp + fn + Smooth),
		IoU:         (tp + Smooth) / (tp + fp + fn + Smooth),
		Sensitivity: (tp + Smooth) / (tp + fn + Smooth),
		Specificity: (tn + Smooth) / (tn + fp + Smooth),
	}, nil
}
