package models

import "time"

// Detection is one journaled detection from an inferred frame.
type Detection struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	FrameSeq   uint64    `json:"frame_seq"`
	Timestamp  time.Time `json:"timestamp"`
	ClassID    int       `json:"class_id"`
	ObjectName string    `json:"object_name"`
	Confidence float64   `json:"confidence"`
	X1         float64   `json:"x1"`
	Y1         float64   `json:"y1"`
	X2         float64   `json:"x2"`
	Y2         float64   `json:"y2"`
}

// ClassCount is the number of journaled detections of one object class.
type ClassCount struct {
	ObjectName string `json:"object_name"`
	Count      int    `json:"count"`
}
